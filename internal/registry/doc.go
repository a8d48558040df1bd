// Package registry is the trust boundary between callers and execution.
//
// Every script that can run is registered here at load time, keyed by
// normalized block id. Callers name a block; they never supply script text.
// The registry hands back an immutable Executable carrying the vetted script
// and its fingerprint, so anything that executes has provably come from a
// loaded playbook.
//
// Reloads build a complete new generation and swap it in atomically. An
// in-flight execution keeps the Executable it resolved, so a reload never
// mutates a script out from under a running process.
package registry

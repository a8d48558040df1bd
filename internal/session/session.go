// Package session keeps the shared execution environment for one server.
//
// A session is the environment blocks run in: a set of environment variables
// and a working directory that persist across executions, the way variables
// persist across cells in a notebook. Access is guarded by bearer tokens
// minted at session creation; additional tokens can be minted for extra
// browser tabs and revoked independently.
//
// Executions read a point-in-time Snapshot at spawn, so a concurrent update
// never tears the environment a running process sees.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxTokens bounds the number of live tokens per session. Minting past the
// bound evicts the oldest token.
const maxTokens = 20

var ErrInvalidToken = errors.New("invalid session token")

// excludedEnvVars are shell-managed variables that must never be captured
// back into the session, they describe the capture subprocess itself.
var excludedEnvVars = map[string]bool{
	"_":                     true,
	"SHLVL":                 true,
	"PWD":                   true,
	"OLDPWD":                true,
	"SHELL":                 true,
	"BASH":                  true,
	"BASH_VERSION":          true,
	"BASH_VERSINFO":         true,
	"BASHOPTS":              true,
	"BASH_ARGC":             true,
	"BASH_ARGV":             true,
	"BASH_LINENO":           true,
	"BASH_SOURCE":           true,
	"BASH_SUBSHELL":         true,
	"BASH_EXECUTION_STRING": true,
	"DIRSTACK":              true,
	"EUID":                  true,
	"UID":                   true,
	"PPID":                  true,
	"RANDOM":                true,
	"SECONDS":               true,
	"LINENO":                true,
	"HISTCMD":               true,
	"FUNCNAME":              true,
	"GROUPS":                true,
	"HOSTTYPE":              true,
	"MACHTYPE":              true,
	"OSTYPE":                true,
	"OPTERR":                true,
	"OPTIND":                true,
	"IFS":                   true,
	"PS4":                   true,
	"PIPESTATUS":            true,
	"EPOCHSECONDS":          true,
	"EPOCHREALTIME":         true,
	"SRANDOM":               true,
	"BASH_COMMAND":          true,
	"COMP_WORDBREAKS":       true,
}

// Metadata is the public view of a session's state.
type Metadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	Tokens      int       `json:"tokens"`
	EnvVars     []string  `json:"envVars"`
	Workdir     string    `json:"workdir"`
	Executions  int       `json:"executions"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	EnvModified bool      `json:"envModified"`
}

// Store is the single mutable session for a server instance.
type Store struct {
	mu sync.Mutex

	tokens     map[string]time.Time // token -> minted-at
	env        map[string]string
	initialEnv map[string]string

	workdir        string
	initialWorkdir string

	createdAt  time.Time
	lastUsedAt time.Time
	execCount  int
}

// NewStore creates a session rooted at workdir with an empty environment.
func NewStore(workdir string) *Store {
	now := time.Now()
	return &Store{
		tokens:         make(map[string]time.Time),
		env:            make(map[string]string),
		initialEnv:     make(map[string]string),
		workdir:        workdir,
		initialWorkdir: workdir,
		createdAt:      now,
		lastUsedAt:     now,
	}
}

// Create mints the first (or another) access token for the session.
func (s *Store) Create() (string, error) {
	return s.mint()
}

// Join mints an additional token after validating an existing one.
func (s *Store) Join(existing string) (string, error) {
	if !s.Validate(existing) {
		return "", ErrInvalidToken
	}
	return s.mint()
}

func (s *Store) mint() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("minting session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tokens) >= maxTokens {
		s.evictOldestLocked()
	}
	s.tokens[token] = time.Now()
	return token, nil
}

func (s *Store) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for tok, at := range s.tokens {
		if oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = tok, at
		}
	}
	delete(s.tokens, oldest)
}

// Revoke invalidates one token. Revoking an unknown token is a no-op.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Validate reports whether token grants access to the session.
func (s *Store) Validate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	if ok {
		s.lastUsedAt = time.Now()
	}
	return ok
}

// Snapshot returns a copy of the environment and the current workdir, taken
// under one lock so an execution spawns against a consistent view.
func (s *Store) Snapshot() (map[string]string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := make(map[string]string, len(s.env))
	for k, v := range s.env {
		env[k] = v
	}
	return env, s.workdir
}

// Merge applies a partial environment update. Keys present in partial are
// set; keys absent from partial are left untouched. A key set to the empty
// string stays present with an empty value.
func (s *Store) Merge(partial map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range partial {
		s.env[k] = v
	}
	s.lastUsedAt = time.Now()
}

// Delete removes keys from the environment.
func (s *Store) Delete(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.env, k)
	}
}

// MergeCaptured folds a subprocess's captured environment and final workdir
// back into the session. Shell-managed variables are filtered out first.
func (s *Store) MergeCaptured(captured map[string]string, workdir string) {
	filtered := FilterCapturedEnv(captured)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range filtered {
		s.env[k] = v
	}
	if workdir != "" {
		s.workdir = workdir
	}
	s.execCount++
	s.lastUsedAt = time.Now()
}

// Reset restores the initial environment and workdir. Tokens survive a reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.env = make(map[string]string, len(s.initialEnv))
	for k, v := range s.initialEnv {
		s.env[k] = v
	}
	s.workdir = s.initialWorkdir
	s.lastUsedAt = time.Now()
}

// Metadata returns the public session state.
func (s *Store) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.env))
	for k := range s.env {
		names = append(names, k)
	}
	sort.Strings(names)

	return Metadata{
		CreatedAt:   s.createdAt,
		Tokens:      len(s.tokens),
		EnvVars:     names,
		Workdir:     s.workdir,
		Executions:  s.execCount,
		LastUsedAt:  s.lastUsedAt,
		EnvModified: len(s.env) != len(s.initialEnv) || s.workdir != s.initialWorkdir,
	}
}

// FilterCapturedEnv drops shell-managed variables and anything with an
// unusable name from a captured environment.
func FilterCapturedEnv(captured map[string]string) map[string]string {
	out := make(map[string]string, len(captured))
	for k, v := range captured {
		if k == "" || excludedEnvVars[k] {
			continue
		}
		// Engine plumbing variables describe the run, not the session.
		if strings.HasPrefix(k, "PLAYBOOK_") || strings.HasPrefix(k, "__PG_") {
			continue
		}
		if strings.ContainsAny(k, "=\x00") {
			continue
		}
		out[k] = v
	}
	return out
}

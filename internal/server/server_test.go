package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/playbookgo/internal/executor"
	"github.com/vk/playbookgo/internal/outputstore"
	"github.com/vk/playbookgo/internal/readiness"
	"github.com/vk/playbookgo/internal/registry"
	"github.com/vk/playbookgo/internal/session"
)

type testStack struct {
	server  *Server
	outputs *outputstore.Store
	session *session.Store
	path    string
}

func newTestServer(t *testing.T, playbookHCL string) *testStack {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "playbook.hcl")
	require.NoError(t, os.WriteFile(path, []byte(playbookHCL), 0o644))

	gen, err := registry.LoadGeneration(context.Background(), path)
	require.NoError(t, err)

	reg := registry.New(gen)
	outputs := outputstore.New()
	sess := session.NewStore(dir)
	gate := readiness.NewGate(outputs)
	engine := executor.NewEngine(reg, outputs, sess, gate, executor.Config{PlaybookPath: path})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testStack{
		server:  New(logger, reg, outputs, sess, gate, engine, path),
		outputs: outputs,
		session: sess,
		path:    path,
	}
}

func (ts *testStack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func (ts *testStack) createToken(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/session", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

type sseEvent struct {
	Event string
	Data  string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	var cur sseEvent
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			cur.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && cur.Event != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	if cur.Event != "" {
		events = append(events, cur)
	}
	return events
}

const basicPlaybook = `
block "command" "produce" {
  outputs = ["TOKEN"]
  script  = <<-EOT
    echo "producing"
    echo "TOKEN=tok-1" >> "$PLAYBOOK_OUTPUT"
  EOT
}

block "command" "consume" {
  script = "echo got {{ ._blocks.produce.outputs.TOKEN }}"
}
`

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)

	w := ts.do(t, http.MethodGet, "/api/blocks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/blocks", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := ts.createToken(t)
	w = ts.do(t, http.MethodGet, "/api/blocks", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionJoinAndRevoke(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	first := ts.createToken(t)

	w := ts.do(t, http.MethodPost, "/api/session/join", first, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	second := resp.Token
	require.NotEqual(t, first, second)

	// Revoking the first token leaves the second working.
	w = ts.do(t, http.MethodDelete, "/api/session/token", first, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/session", first, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/session", second, nil).Code)
}

func TestSessionEnvPatchMerges(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	w := ts.do(t, http.MethodPatch, "/api/session/env", token, reqBody{"env": map[string]string{"A": "1"}})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPatch, "/api/session/env", token, reqBody{"env": map[string]string{"B": "2"}})
	require.Equal(t, http.StatusOK, w.Code)

	env, _ := ts.session.Snapshot()
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, env)

	w = ts.do(t, http.MethodPatch, "/api/session/env", token, reqBody{"unset": []string{"A"}})
	require.Equal(t, http.StatusOK, w.Code)
	env, _ = ts.session.Snapshot()
	assert.Equal(t, map[string]string{"B": "2"}, env)
}

type reqBody = map[string]any

func TestSessionReset(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	ts.session.Merge(map[string]string{"A": "1"})
	ts.outputs.Publish("produce", map[string]string{"TOKEN": "tok-1"})

	w := ts.do(t, http.MethodPost, "/api/session/reset", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env, _ := ts.session.Snapshot()
	assert.Empty(t, env)
	assert.Empty(t, ts.outputs.Snapshot())
}

func TestBlocksListReportsReadiness(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	w := ts.do(t, http.MethodGet, "/api/blocks", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Blocks []struct {
			ID        string   `json:"id"`
			Kind      string   `json:"kind"`
			DependsOn []string `json:"dependsOn"`
			Readiness struct {
				Ready bool `json:"ready"`
			} `json:"readiness"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Blocks, 2)

	assert.Equal(t, "produce", resp.Blocks[0].ID)
	assert.True(t, resp.Blocks[0].Readiness.Ready)

	assert.Equal(t, "consume", resp.Blocks[1].ID)
	assert.Equal(t, []string{"produce"}, resp.Blocks[1].DependsOn)
	assert.False(t, resp.Blocks[1].Readiness.Ready)
}

func TestBlockReadinessEndpoint(t *testing.T) {
	ts := newTestServer(t, `
block "command" "deploy" {
  script = "deploy --to {{ .Target }}"
}
`)
	token := ts.createToken(t)

	w := ts.do(t, http.MethodGet, "/api/blocks/deploy/readiness", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Target"`)

	// A query override satisfies the input.
	w = ts.do(t, http.MethodGet, "/api/blocks/deploy/readiness?Target=prod", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":true`)

	// Session environment satisfies it too.
	ts.session.Merge(map[string]string{"Target": "staging"})
	w = ts.do(t, http.MethodGet, "/api/blocks/deploy/readiness", token, nil)
	assert.Contains(t, w.Body.String(), `"ready":true`)

	w = ts.do(t, http.MethodGet, "/api/blocks/missing/readiness", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInputsBlockDefaultsApplyPlaybookWide(t *testing.T) {
	ts := newTestServer(t, `
block "inputs" "defaults" {
  variables = {
    Region = "us-east-1"
  }
  script = "true"
}

block "command" "deploy" {
  script = "deploy --region {{ .Region }} --to {{ .Target }}"
}
`)
	token := ts.createToken(t)

	// Region comes from the inputs block; only Target is still missing.
	w := ts.do(t, http.MethodGet, "/api/blocks/deploy/readiness", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"Region"`)
	assert.Contains(t, w.Body.String(), `"Target"`)

	w = ts.do(t, http.MethodGet, "/api/blocks/deploy/readiness?Target=prod", token, nil)
	assert.Contains(t, w.Body.String(), `"ready":true`)
}

func TestExecStreamsEventsInOrder(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	w := ts.do(t, http.MethodPost, "/api/exec", token, reqBody{"blockId": "produce"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	events := parseSSE(w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "execution", events[0].Event)

	kinds := make([]string, 0, len(events))
	for _, e := range events[1:] {
		kinds = append(kinds, e.Event)
	}
	assert.Contains(t, kinds, "log")
	assert.Contains(t, kinds, "outputs")
	assert.Equal(t, "status", kinds[len(kinds)-1])

	// Outputs precede the terminal status.
	outIdx, statusIdx := -1, -1
	for i, k := range kinds {
		if k == "outputs" {
			outIdx = i
		}
		if k == "status" {
			statusIdx = i
		}
	}
	assert.Less(t, outIdx, statusIdx)

	// The dependent block is now ready.
	r := ts.do(t, http.MethodGet, "/api/blocks/consume/readiness", token, nil)
	assert.Contains(t, r.Body.String(), `"ready":true`)
}

func TestExecUnknownBlock(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	w := ts.do(t, http.MethodPost, "/api/exec", token, reqBody{"blockId": "mystery"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecNotReadyDetail(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	w := ts.do(t, http.MethodPost, "/api/exec", token, reqBody{"blockId": "consume"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Readiness struct {
			Unmet []struct {
				BlockID string   `json:"blockId"`
				Missing []string `json:"missing"`
			} `json:"unmetOutputs"`
		} `json:"readiness"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Readiness.Unmet, 1)
	assert.Equal(t, "produce", resp.Readiness.Unmet[0].BlockID)
	assert.Equal(t, []string{"TOKEN"}, resp.Readiness.Unmet[0].Missing)
}

func TestExecConflictAndDisconnectCancels(t *testing.T) {
	ts := newTestServer(t, basicPlaybook+`
block "command" "slow" {
  script = "exec sleep 30"
}
`)
	token := ts.createToken(t)

	ctx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		body, _ := json.Marshal(reqBody{"blockId": "slow"})
		req := httptest.NewRequest(http.MethodPost, "/api/exec", bytes.NewReader(body)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		ts.server.Router().ServeHTTP(w, req)
		firstDone <- w
	}()

	// Wait until the engine has admitted the run.
	require.Eventually(t, func() bool {
		return ts.do(t, http.MethodPost, "/api/exec", token, reqBody{"blockId": "slow"}).Code == http.StatusConflict
	}, 5*time.Second, 20*time.Millisecond)

	// Client disconnect cancels the execution and frees the block.
	cancel()
	select {
	case <-firstDone:
	case <-time.After(10 * time.Second):
		t.Fatal("exec handler did not return after disconnect")
	}

	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodPost, "/api/exec", token, reqBody{"blockId": "produce"})
		return w.Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReload(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	require.NoError(t, os.WriteFile(ts.path, []byte(`
block "command" "only" {
  script = "echo new"
}
`), 0o644))

	w := ts.do(t, http.MethodPost, "/api/reload", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"blocks":1`)

	w = ts.do(t, http.MethodGet, "/api/blocks", token, nil)
	var resp struct {
		Blocks []struct {
			ID string `json:"id"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, "only", resp.Blocks[0].ID)
}

func TestReloadBadPlaybookKeepsServing(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	require.NoError(t, os.WriteFile(ts.path, []byte("block {{{"), 0o644))

	w := ts.do(t, http.MethodPost, "/api/reload", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodGet, "/api/blocks", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "produce")
}

func TestOutputsEndpoint(t *testing.T) {
	ts := newTestServer(t, basicPlaybook)
	token := ts.createToken(t)

	ts.outputs.Publish("produce", map[string]string{"TOKEN": "tok-9"})

	w := ts.do(t, http.MethodGet, "/api/outputs", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Outputs map[string]map[string]string `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok-9", resp.Outputs["produce"]["TOKEN"])
}


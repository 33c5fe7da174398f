package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/orchestrator"
	"github.com/benford266/ComfyImageGen/internal/workflow"
)

type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	lastReq workflow.Request

	generate func(req workflow.Request, notify orchestrator.Notify) (orchestrator.Result, error)
	fetch    func(rawURL string) (*orchestrator.Artifact, error)
	health   orchestrator.Health
}

func (s *stubGenerator) GenerateNotify(ctx context.Context, req workflow.Request, notify orchestrator.Notify) (orchestrator.Result, error) {
	s.mu.Lock()
	s.calls++
	s.lastReq = req
	s.mu.Unlock()
	return s.generate(req, notify)
}

func (s *stubGenerator) Fetch(ctx context.Context, rawURL string) (*orchestrator.Artifact, error) {
	return s.fetch(rawURL)
}

func (s *stubGenerator) HealthCheck(ctx context.Context) orchestrator.Health {
	return s.health
}

func catResult() orchestrator.Result {
	return orchestrator.Result{
		PromptID: "abc123",
		Seed:     42,
		Reference: orchestrator.ArtifactReference{
			Filename: "out.png",
			Type:     "output",
			URL:      "http://comfy:8188/view?filename=out.png&subfolder=&type=output",
		},
	}
}

func newTestApi(gen Generator) (*Api, *Hub) {
	hub := NewHub()
	d := NewDispatcher(context.Background(), hub, gen, config.AsyncConfig{QueueSize: 4, MaxConcurrent: 2})
	return NewApi(context.Background(), gen, hub, d, config.ApiConfig{}), hub
}

func doJSON(t *testing.T, a *Api, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.server.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, raw)
		}
	}
	return resp, out
}

func TestGenerate_Success(t *testing.T) {
	gen := &stubGenerator{generate: func(req workflow.Request, _ orchestrator.Notify) (orchestrator.Result, error) {
		return catResult(), nil
	}}
	a, _ := newTestApi(gen)

	resp, out := doJSON(t, a, http.MethodPost, "/api/generate",
		`{"prompt":"  a cat ","width":"640","height":480,"steps":20,"cfg":7.5,"seed":42}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, out)
	}
	if out["success"] != true || out["imageUrl"] != catResult().Reference.URL || out["filename"] != "out.png" {
		t.Fatalf("unexpected body %v", out)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}

	req := gen.lastReq
	if req.Prompt != "a cat" || req.Width != 640 || req.Height != 480 || req.Steps != 20 || req.CFG != 7.5 {
		t.Fatalf("request not coerced: %+v", req)
	}
	if req.Seed == nil || *req.Seed != 42 {
		t.Fatalf("seed: %v", req.Seed)
	}
}

func TestGenerate_DefaultsForGarbageNumbers(t *testing.T) {
	gen := &stubGenerator{generate: func(req workflow.Request, _ orchestrator.Notify) (orchestrator.Result, error) {
		return catResult(), nil
	}}
	a, _ := newTestApi(gen)

	resp, _ := doJSON(t, a, http.MethodPost, "/api/generate",
		`{"prompt":"x","width":"wide","height":null,"steps":-4,"cfg":"","seed":"random"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	req := gen.lastReq
	if req.Width != 512 || req.Height != 512 || req.Steps != 15 || req.CFG != 4 || req.Seed != nil {
		t.Fatalf("defaults not applied: %+v", req)
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
		details bool
	}{
		{"validation", orchestrator.ErrValidation, http.StatusBadRequest, "Prompt is required", false},
		{"timeout", orchestrator.ErrTimedOut, http.StatusInternalServerError, "Generation timed out", false},
		{"template", workflow.ErrTemplateNotBound, http.StatusInternalServerError, "Workflow template not loaded", false},
		{"submission", &orchestrator.BackendError{
			Kind:   orchestrator.ErrSubmission,
			Op:     "queue prompt",
			Status: 400,
			Detail: json.RawMessage(`{"node_errors":{"4":{}}}`),
		}, http.StatusInternalServerError, "queue prompt: failed to queue prompt", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &stubGenerator{generate: func(workflow.Request, orchestrator.Notify) (orchestrator.Result, error) {
				return orchestrator.Result{}, tc.err
			}}
			a, _ := newTestApi(gen)

			resp, out := doJSON(t, a, http.MethodPost, "/api/generate", `{"prompt":"x"}`)
			if resp.StatusCode != tc.status {
				t.Fatalf("status: got %d want %d", resp.StatusCode, tc.status)
			}
			if out["error"] != tc.message {
				t.Fatalf("error: got %v want %q", out["error"], tc.message)
			}
			if _, ok := out["details"]; ok != tc.details {
				t.Fatalf("details presence: got %v want %v (%v)", ok, tc.details, out)
			}
		})
	}
}

func TestGenerate_InvalidBody(t *testing.T) {
	gen := &stubGenerator{}
	a, _ := newTestApi(gen)

	resp, _ := doJSON(t, a, http.MethodPost, "/api/generate", `{"prompt":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called for invalid body")
	}
}

func TestStatus(t *testing.T) {
	gen := &stubGenerator{health: orchestrator.Health{Connected: true, Queue: json.RawMessage(`{"queue_running":[],"queue_pending":[]}`)}}
	a, _ := newTestApi(gen)

	resp, out := doJSON(t, a, http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusOK || out["status"] != "connected" || out["queue"] == nil {
		t.Fatalf("connected: %d %v", resp.StatusCode, out)
	}

	gen.health = orchestrator.Health{Err: "dial tcp: connection refused"}
	resp, out = doJSON(t, a, http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusInternalServerError || out["status"] != "disconnected" || out["error"] == "" {
		t.Fatalf("disconnected: %d %v", resp.StatusCode, out)
	}
}

func TestProxyImage(t *testing.T) {
	gen := &stubGenerator{fetch: func(rawURL string) (*orchestrator.Artifact, error) {
		switch {
		case strings.HasPrefix(rawURL, "http://comfy:8188/view"):
			return &orchestrator.Artifact{
				Body:          io.NopCloser(strings.NewReader("PNGBYTES")),
				ContentType:   "image/png",
				ContentLength: 8,
				Filename:      "out.png",
			}, nil
		case strings.HasPrefix(rawURL, "http://comfy:8188"):
			return nil, &orchestrator.BackendError{Kind: orchestrator.ErrFetch, Op: "fetch image", Status: 404}
		}
		return nil, orchestrator.ErrInvalidReference
	}}
	a, _ := newTestApi(gen)

	req := httptest.NewRequest(http.MethodGet, "/api/proxy-image?url="+
		"http%3A%2F%2Fcomfy%3A8188%2Fview%3Ffilename%3Dout.png%26subfolder%3D%26type%3Doutput", nil)
	resp, err := a.server.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "PNGBYTES" {
		t.Fatalf("proxy: %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content type: %q", resp.Header.Get("Content-Type"))
	}

	r, out := doJSON(t, a, http.MethodGet, "/api/proxy-image?url=http%3A%2F%2Fevil.example.com%2Fx.png", "")
	if r.StatusCode != http.StatusBadRequest || out["error"] != "Invalid image URL" {
		t.Fatalf("invalid url: %d %v", r.StatusCode, out)
	}

	r, out = doJSON(t, a, http.MethodGet, "/api/proxy-image?url=http%3A%2F%2Fcomfy%3A8188%2Fmissing", "")
	if r.StatusCode != http.StatusInternalServerError || out["error"] != "Failed to fetch image" {
		t.Fatalf("fetch error: %d %v", r.StatusCode, out)
	}
}

func TestHealth(t *testing.T) {
	a, _ := newTestApi(&stubGenerator{})
	resp, out := doJSON(t, a, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || out["status"] != float64(200) {
		t.Fatalf("health: %d %v", resp.StatusCode, out)
	}
}

func TestGenerateAsync(t *testing.T) {
	done := make(chan struct{})
	gen := &stubGenerator{generate: func(req workflow.Request, notify orchestrator.Notify) (orchestrator.Result, error) {
		defer close(done)
		res := catResult()
		notify(orchestrator.Event{Type: orchestrator.EventCompleted, PromptID: res.PromptID, Reference: &res.Reference})
		return res, nil
	}}
	a, hub := newTestApi(gen)
	client := &WSClient{id: "client-1", send: make(chan []byte, 4)}
	hub.Add(client)
	a.async.Run()
	defer a.async.Shutdown()

	resp, out := doJSON(t, a, http.MethodPost, "/api/generate/async", `{"prompt":"a cat"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing clientId: %d %v", resp.StatusCode, out)
	}

	resp, out = doJSON(t, a, http.MethodPost, "/api/generate/async", `{"prompt":" ","clientId":"client-1"}`)
	if resp.StatusCode != http.StatusBadRequest || out["error"] != "Prompt is required" {
		t.Fatalf("blank prompt: %d %v", resp.StatusCode, out)
	}

	resp, out = doJSON(t, a, http.MethodPost, "/api/generate/async", `{"prompt":"a cat","clientId":"client-1"}`)
	if resp.StatusCode != http.StatusAccepted || out["jobId"] == "" {
		t.Fatalf("enqueue: %d %v", resp.StatusCode, out)
	}

	<-done
	var ev WSEvent
	if err := json.Unmarshal(<-client.send, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != orchestrator.EventCompleted || ev.JobID != out["jobId"] || ev.Filename != "out.png" || ev.PromptID != "abc123" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDispatcher_QueueFullAndShutdown(t *testing.T) {
	gen := &stubGenerator{generate: func(workflow.Request, orchestrator.Notify) (orchestrator.Result, error) {
		return orchestrator.Result{}, errors.New("unused")
	}}
	d := NewDispatcher(context.Background(), NewHub(), gen, config.AsyncConfig{QueueSize: 1, MaxConcurrent: 1})

	if err := d.Enqueue(GenerationJob{JobID: "1", ClientID: "c"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.Enqueue(GenerationJob{JobID: "2", ClientID: "c"}); !errors.Is(err, ErrGenerationQueueFull) {
		t.Fatalf("expected ErrGenerationQueueFull, got %v", err)
	}

	d.Shutdown()
	if err := d.Enqueue(GenerationJob{JobID: "3", ClientID: "c"}); !errors.Is(err, ErrDispatcherShuttingDown) {
		t.Fatalf("expected ErrDispatcherShuttingDown, got %v", err)
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	a, _ := newTestApi(&stubGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "trace-1")
	resp, err := a.server.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "trace-1" {
		t.Fatalf("inbound id not reused: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", 65))
	resp, err = a.server.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); len(got) != 36 {
		t.Fatalf("oversized id not replaced: %q", got)
	}
}

func TestDispatcher_ShutdownFailsQueuedJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &stubGenerator{generate: func(workflow.Request, orchestrator.Notify) (orchestrator.Result, error) {
		close(started)
		<-release
		return orchestrator.Result{}, context.Canceled
	}}

	hub := NewHub()
	client := &WSClient{id: "c1", send: make(chan []byte, 8)}
	hub.Add(client)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, hub, gen, config.AsyncConfig{QueueSize: 4, MaxConcurrent: 1})
	d.Run()

	if err := d.Enqueue(GenerationJob{JobID: "j1", ClientID: "c1"}); err != nil {
		t.Fatal(err)
	}
	<-started
	for _, id := range []string{"j2", "j3"} {
		if err := d.Enqueue(GenerationJob{JobID: id, ClientID: "c1"}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	cancel()
	if err := d.Enqueue(GenerationJob{JobID: "j4", ClientID: "c1"}); !errors.Is(err, ErrDispatcherShuttingDown) {
		t.Fatalf("enqueue after cancel: %v", err)
	}
	close(release)
	d.Shutdown()

	failed := map[string]bool{}
	for len(client.send) > 0 {
		var ev WSEvent
		if err := json.Unmarshal(<-client.send, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type == orchestrator.EventFailed && ev.Message == ErrDispatcherShuttingDown.Error() {
			failed[ev.JobID] = true
		}
	}
	if !failed["j2"] || !failed["j3"] {
		t.Fatalf("queued jobs not failed on shutdown: %v", failed)
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/clients/comfyui"
	"github.com/benford266/ComfyImageGen/internal/workflow"
)

const testGraph = `{
  "3": {"class_type": "KSampler", "inputs": {"cfg": 8, "seed": 1, "steps": 20}},
  "5": {"class_type": "EmptyLatentImage", "inputs": {"batch_size": 1, "height": 512, "width": 512}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "x"}}
}`

type scripted struct {
	status int
	body   string
}

// fakeComfy scripts /queue and /history responses; the last entry of each script repeats.
type fakeComfy struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	promptResponse scripted
	queueScript    []scripted
	historyScript  []scripted
	promptCalls    int
	queueCalls     int
	historyCalls   int
	lastGraph      []byte
	lastClientID   string
}

func newFakeComfy(t *testing.T) *fakeComfy {
	t.Helper()
	f := &fakeComfy{
		t:              t,
		promptResponse: scripted{http.StatusOK, `{"prompt_id":"abc123","number":1,"node_errors":{}}`},
		queueScript:    []scripted{{http.StatusOK, `{"queue_running":[],"queue_pending":[]}`}},
		historyScript:  []scripted{{http.StatusOK, `{}`}},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeComfy) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp scripted
	switch {
	case r.URL.Path == "/prompt" && r.Method == http.MethodPost:
		f.promptCalls++
		var body struct {
			Prompt   json.RawMessage `json:"prompt"`
			ClientID string          `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("decode prompt body: %v", err)
		}
		f.lastGraph = body.Prompt
		f.lastClientID = body.ClientID
		resp = f.promptResponse
	case r.URL.Path == "/queue":
		resp = next(f.queueScript, f.queueCalls)
		f.queueCalls++
	case strings.HasPrefix(r.URL.Path, "/history/"):
		resp = next(f.historyScript, f.historyCalls)
		f.historyCalls++
	case r.URL.Path == "/view":
		if r.URL.Query().Get("filename") == "missing.png" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("type") == "untyped" {
			w.Header()["Content-Type"] = nil
		} else {
			w.Header().Set("Content-Type", "image/webp")
		}
		w.Header().Set("Content-Disposition", `inline; filename="`+r.URL.Query().Get("filename")+`"`)
		io.WriteString(w, "IMAGEBYTES")
		return
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	io.WriteString(w, resp.body)
}

func next(script []scripted, i int) scripted {
	if i >= len(script) {
		return script[len(script)-1]
	}
	return script[i]
}

func (f *fakeComfy) counts() (prompt, queue, history int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promptCalls, f.queueCalls, f.historyCalls
}

func (f *fakeComfy) client() *comfyui.Client {
	return comfyui.NewClient(config.ComfyConfig{BaseUrl: f.server.URL, RequestTimeoutMs: 2000})
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err() == nil
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

var testPoll = config.PollConfig{MaxAttempts: 5, PendingIntervalMs: 5000, ErrorIntervalMs: 2000}

func newTestOrchestrator(t *testing.T, f *fakeComfy, poll config.PollConfig) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	tpl, err := workflow.Parse([]byte(testGraph), workflow.DefaultRoles())
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	store := workflow.NewStore()
	store.Set(tpl)

	o := New(store, f.client(), poll, "9")
	rec := &sleepRecorder{}
	o.poller.sleep = rec.sleep
	return o, rec
}

const (
	queueWithPending = `{"queue_running":[[0,"other",{},{},[]]],"queue_pending":[[1,"abc123",{},{},["9"]]]}`
	queueEmpty       = `{"queue_running":[],"queue_pending":[]}`
	historyDone      = `{"abc123":{"outputs":{"9":{"images":[{"filename":"out.png","subfolder":"","type":"output"}]}}}}`
)

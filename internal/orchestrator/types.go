package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/benford266/ComfyImageGen/internal/clients/comfyui"
)

// Backend is the part of the ComfyUI protocol the orchestrator drives.
type Backend interface {
	BaseURL() string
	QueuePrompt(ctx context.Context, graph []byte, clientID string) (comfyui.PromptResponse, error)
	Queue(ctx context.Context) ([]byte, error)
	History(ctx context.Context, promptID string) ([]byte, error)
	ViewURL(img comfyui.Image) string
	Open(ctx context.Context, rawURL string) (*http.Response, error)
}

type JobHandle struct {
	PromptID string
	ClientID string
	Number   int
}

type ArtifactReference struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	URL       string `json:"url"`
}

type OutcomeKind int

const (
	Pending OutcomeKind = iota
	Completed
	TimedOut
	TransientError
)

func (k OutcomeKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case TransientError:
		return "transient_error"
	}
	return "unknown"
}

type PollOutcome struct {
	Kind      OutcomeKind
	Reference ArtifactReference
	Attempts  int
}

// Result is what a finished generation hands back to the caller.
type Result struct {
	Reference ArtifactReference
	PromptID  string
	Seed      int64
}

const (
	EventQueued    = "generation.queued"
	EventPending   = "generation.pending"
	EventCompleted = "generation.completed"
	EventFailed    = "generation.failed"
)

// Event reports progress of one generation. Only completed/failed are terminal.
type Event struct {
	Type      string
	PromptID  string
	Attempt   int
	Reference *ArtifactReference
	Message   string
}

// Notify receives progress events. It is called from the generating goroutine.
type Notify func(Event)

func (n Notify) emit(ev Event) {
	if n != nil {
		n(ev)
	}
}

type Health struct {
	Connected bool
	Queue     json.RawMessage
	Err       string
}

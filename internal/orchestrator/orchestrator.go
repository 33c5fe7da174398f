package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/workflow"

	"github.com/charmbracelet/log"
)

// Orchestrator runs one generation end to end: bind, submit, poll.
type Orchestrator struct {
	store     *workflow.Store
	backend   Backend
	submitter *Submitter
	poller    *Poller
	proxy     *Proxy
	log       *log.Logger
}

func New(store *workflow.Store, backend Backend, poll config.PollConfig, outputNode string) *Orchestrator {
	return &Orchestrator{
		store:     store,
		backend:   backend,
		submitter: NewSubmitter(backend),
		poller:    NewPoller(backend, poll, outputNode),
		proxy:     NewProxy(backend),
		log:       log.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) Generate(ctx context.Context, req workflow.Request) (Result, error) {
	return o.GenerateNotify(ctx, req, nil)
}

// GenerateNotify is Generate with progress events. notify may be nil.
func (o *Orchestrator) GenerateNotify(ctx context.Context, req workflow.Request, notify Notify) (Result, error) {
	res, err := o.generate(ctx, req, notify)
	if err != nil {
		notify.emit(Event{Type: EventFailed, PromptID: res.PromptID, Message: err.Error()})
		return res, err
	}
	ref := res.Reference
	notify.emit(Event{Type: EventCompleted, PromptID: res.PromptID, Reference: &ref})
	return res, nil
}

func (o *Orchestrator) generate(ctx context.Context, req workflow.Request, notify Notify) (Result, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return Result{}, ErrValidation
	}

	job, err := o.store.Bind(req)
	if err != nil {
		return Result{}, err
	}

	handle, err := o.submitter.Submit(ctx, job)
	if err != nil {
		return Result{Seed: job.Seed}, err
	}
	notify.emit(Event{Type: EventQueued, PromptID: handle.PromptID})

	outcome := o.poller.Poll(ctx, handle, notify)
	res := Result{PromptID: handle.PromptID, Seed: job.Seed}
	if outcome.Kind != Completed {
		return res, ErrTimedOut
	}

	res.Reference = outcome.Reference
	return res, nil
}

// Fetch proxies an image reference previously returned by Generate.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string) (*Artifact, error) {
	return o.proxy.Fetch(ctx, rawURL)
}

func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	raw, err := o.backend.Queue(ctx)
	if err != nil {
		return Health{Connected: false, Err: err.Error()}
	}
	if !json.Valid(raw) {
		return Health{Connected: false, Err: "queue: invalid json"}
	}
	return Health{Connected: true, Queue: raw}
}

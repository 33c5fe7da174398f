package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/clients/comfyui"

	"github.com/charmbracelet/log"
)

// Poller waits for a queued prompt by alternating between ComfyUI's /queue and
// /history views. The two views are updated independently, so a prompt can briefly
// be in neither; that gap is retried on the short interval.
type Poller struct {
	backend         Backend
	outputNode      string
	maxAttempts     int
	pendingInterval time.Duration
	errorInterval   time.Duration
	log             *log.Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

func NewPoller(backend Backend, config config.PollConfig, outputNode string) *Poller {
	p := &Poller{
		backend:         backend,
		outputNode:      outputNode,
		maxAttempts:     config.MaxAttempts,
		pendingInterval: config.PendingInterval(),
		errorInterval:   config.ErrorInterval(),
		log:             log.With("component", "poller"),
		sleep:           sleepCtx,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 60
	}
	return p
}

// Poll runs at most maxAttempts rounds and never returns an error: backend
// failures are retried inside the attempt budget and exhaustion is TimedOut.
func (p *Poller) Poll(ctx context.Context, handle JobHandle, notify Notify) PollOutcome {
	logger := p.log.With("promptId", handle.PromptID)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		outcome, err := p.attempt(ctx, handle.PromptID)
		if err != nil {
			logger.Warn("poll attempt failed", "attempt", attempt, "err", err)
			outcome.Kind = TransientError
		}
		outcome.Attempts = attempt

		switch outcome.Kind {
		case Completed:
			logger.Info("generation completed", "attempt", attempt, "filename", outcome.Reference.Filename)
			return outcome
		case Pending:
			notify.emit(Event{Type: EventPending, PromptID: handle.PromptID, Attempt: attempt})
			if !p.sleep(ctx, p.pendingInterval) {
				return PollOutcome{Kind: TimedOut, Attempts: attempt}
			}
		default:
			if !p.sleep(ctx, p.errorInterval) {
				return PollOutcome{Kind: TimedOut, Attempts: attempt}
			}
		}
	}

	logger.Warn("generation timed out", "attempts", p.maxAttempts)
	return PollOutcome{Kind: TimedOut, Attempts: p.maxAttempts}
}

// attempt is one round. A prompt still in the queue is Pending without touching
// /history. A prompt in neither view comes back as TransientError with no error.
func (p *Poller) attempt(ctx context.Context, promptID string) (PollOutcome, error) {
	rawQueue, err := p.backend.Queue(ctx)
	if err != nil {
		return PollOutcome{}, fmt.Errorf("queue: %w", err)
	}
	queue, err := comfyui.ParseQueue(rawQueue)
	if err != nil {
		return PollOutcome{}, err
	}
	if queue.Contains(promptID) {
		return PollOutcome{Kind: Pending}, nil
	}

	rawHistory, err := p.backend.History(ctx, promptID)
	if err != nil {
		return PollOutcome{}, fmt.Errorf("history: %w", err)
	}
	img, ok, err := comfyui.FirstImage(rawHistory, promptID, p.outputNode)
	if err != nil {
		return PollOutcome{}, err
	}
	if !ok {
		return PollOutcome{Kind: TransientError}, nil
	}

	return PollOutcome{
		Kind: Completed,
		Reference: ArtifactReference{
			Filename:  img.Filename,
			Subfolder: img.Subfolder,
			Type:      img.Type,
			URL:       p.backend.ViewURL(img),
		},
	}, nil
}

// sleepCtx reports false when ctx ended before d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

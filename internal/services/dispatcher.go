package services

import (
	"context"
	"errors"
	"sync"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/orchestrator"
	"github.com/benford266/ComfyImageGen/internal/workflow"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

type GenerationJob struct {
	JobID    string
	ClientID string
	Request  workflow.Request
}

var (
	ErrDispatcherShuttingDown = errors.New("service shutting down")
	ErrGenerationQueueFull    = errors.New("queue full")
)

// Dispatcher runs queued generations in the background and reports each result
// to the submitting client over its websocket.
type Dispatcher struct {
	hub *Hub
	gen Generator
	log *log.Logger

	queue chan GenerationJob
	group errgroup.Group

	mu      sync.RWMutex
	closing bool
	running bool
	done    chan struct{}
	ctx     context.Context
}

func NewDispatcher(ctx context.Context, hub *Hub, gen Generator, config config.AsyncConfig) *Dispatcher {
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 32
	}
	limit := config.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}

	d := &Dispatcher{
		hub:   hub,
		gen:   gen,
		log:   log.With("component", "dispatcher"),
		queue: make(chan GenerationJob, queueSize),
		done:  make(chan struct{}),
		ctx:   ctx,
	}
	d.group.SetLimit(limit)
	return d
}

func (d *Dispatcher) Run() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		for {
			select {
			case <-d.ctx.Done():
				// the queue stays open until Shutdown; fail whatever is left in it
				for job := range d.queue {
					d.reject(job)
				}
				return
			case job, ok := <-d.queue:
				if !ok {
					return
				}
				jobCopy := job
				d.group.Go(func() error {
					d.runJob(jobCopy)
					return nil
				})
			}
		}
	}()
}

func (d *Dispatcher) Enqueue(job GenerationJob) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closing || d.ctx.Err() != nil {
		return ErrDispatcherShuttingDown
	}
	select {
	case d.queue <- job:
		return nil
	default:
		return ErrGenerationQueueFull
	}
}

// Shutdown stops accepting jobs and waits for the running ones.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if !d.closing {
		d.closing = true
		close(d.queue)
	}
	running := d.running
	d.mu.Unlock()

	if running {
		<-d.done
	} else {
		for job := range d.queue {
			d.reject(job)
		}
	}
	_ = d.group.Wait()
}

// reject tells the client a queued job will never run.
func (d *Dispatcher) reject(job GenerationJob) {
	d.log.Warn("generation dropped", "jobId", job.JobID, "clientId", job.ClientID, "err", ErrDispatcherShuttingDown)
	d.hub.SendTo(job.ClientID, WSEvent{
		Type:    orchestrator.EventFailed,
		JobID:   job.JobID,
		Message: ErrDispatcherShuttingDown.Error(),
	})
}

// WS gets queued/pending/completed/failed; the terminal event comes from the orchestrator.
func (d *Dispatcher) runJob(job GenerationJob) {
	if d.ctx.Err() != nil {
		d.reject(job)
		return
	}

	logger := d.log.With("jobId", job.JobID, "clientId", job.ClientID)
	logger.Debug("generation started")

	res, err := d.gen.GenerateNotify(d.ctx, job.Request, d.hub.Notifier(job.ClientID, job.JobID))
	if err != nil {
		logger.Error("generation failed", "promptId", res.PromptID, "err", err)
		return
	}
	logger.Info("generation completed", "promptId", res.PromptID, "filename", res.Reference.Filename)
}

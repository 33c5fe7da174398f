package services

import (
	"context"

	"github.com/benford266/ComfyImageGen/internal/orchestrator"
	"github.com/benford266/ComfyImageGen/internal/workflow"
)

// Generator is what the HTTP layer needs from the orchestrator.
type Generator interface {
	GenerateNotify(ctx context.Context, req workflow.Request, notify orchestrator.Notify) (orchestrator.Result, error)
	Fetch(ctx context.Context, rawURL string) (*orchestrator.Artifact, error)
	HealthCheck(ctx context.Context) orchestrator.Health
}

package orchestrator

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strings"

	"github.com/benford266/ComfyImageGen/internal/clients/comfyui"
	"github.com/benford266/ComfyImageGen/internal/workflow"

	"github.com/charmbracelet/log"
)

type Submitter struct {
	backend Backend
	log     *log.Logger
}

func NewSubmitter(backend Backend) *Submitter {
	return &Submitter{
		backend: backend,
		log:     log.With("component", "submitter"),
	}
}

func (s *Submitter) Submit(ctx context.Context, job workflow.Job) (JobHandle, error) {
	clientID := newClientToken()

	resp, err := s.backend.QueuePrompt(ctx, job.Graph, clientID)
	if err != nil {
		s.log.Error("queue prompt failed", "clientId", clientID, "err", err)
		return JobHandle{}, backendError(ErrSubmission, "queue prompt", err)
	}
	if strings.TrimSpace(resp.PromptID) == "" {
		s.log.Error("comfyui returned no prompt id", "clientId", clientID, "nodeErrors", string(resp.NodeErrors))
		return JobHandle{}, &BackendError{
			Kind:   ErrSubmission,
			Op:     "queue prompt",
			Detail: rejectionDetail(resp),
		}
	}

	s.log.Debug("prompt queued", "promptId", resp.PromptID, "number", resp.Number, "seed", job.Seed)
	return JobHandle{PromptID: resp.PromptID, ClientID: clientID, Number: resp.Number}, nil
}

func rejectionDetail(resp comfyui.PromptResponse) json.RawMessage {
	if len(resp.NodeErrors) == 0 {
		return nil
	}
	return detailOf(resp.NodeErrors)
}

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newClientToken tags a submission for ComfyUI's websocket routing. It is not a secret.
func newClientToken() string {
	var b [26]byte
	for i := range b {
		b[i] = tokenAlphabet[rand.IntN(len(tokenAlphabet))]
	}
	return string(b[:])
}

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/benford266/ComfyImageGen/internal/clients/transport"
)

var (
	ErrValidation       = errors.New("prompt is required")
	ErrSubmission       = errors.New("failed to queue prompt")
	ErrFetch            = errors.New("failed to fetch image")
	ErrTimedOut         = errors.New("generation timed out")
	ErrInvalidReference = errors.New("invalid image url")
)

// BackendError is a ComfyUI failure translated at the component boundary.
// Kind is one of the sentinels above; Detail carries whatever payload ComfyUI sent.
type BackendError struct {
	Kind   error
	Op     string
	Status int
	Detail json.RawMessage
	Cause  error
}

func (e *BackendError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Cause)
}

func (e *BackendError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func backendError(kind error, op string, cause error) *BackendError {
	be := &BackendError{Kind: kind, Op: op, Cause: cause}

	var se *transport.StatusError
	if errors.As(cause, &se) {
		be.Status = se.Code
		be.Detail = detailOf(se.Body)
	}
	return be
}

// detailOf keeps JSON payloads as-is and wraps anything else as a JSON string.
func detailOf(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}

package services

import (
	"errors"
	"strings"

	"github.com/benford266/ComfyImageGen/internal/orchestrator"
	"github.com/benford266/ComfyImageGen/internal/workflow"
	"github.com/benford266/ComfyImageGen/types"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
)

func toRequest(body types.GenerateRequest) workflow.Request {
	return workflow.Request{
		Prompt:         strings.TrimSpace(body.Prompt),
		NegativePrompt: body.NegativePrompt,
		Width:          workflow.IntOr(body.Width, workflow.DefaultWidth),
		Height:         workflow.IntOr(body.Height, workflow.DefaultHeight),
		Steps:          workflow.IntOr(body.Steps, workflow.DefaultSteps),
		CFG:            workflow.FloatOr(body.Cfg, workflow.DefaultCFG),
		Seed:           workflow.OptionalSeed(body.Seed),
	}
}

// errorStatus maps the orchestration error taxonomy onto HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrValidation), errors.Is(err, orchestrator.ErrInvalidReference):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(err error) types.ErrorResponse {
	resp := types.ErrorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		resp.Error = "Prompt is required"
	case errors.Is(err, orchestrator.ErrInvalidReference):
		resp.Error = "Invalid image URL"
	case errors.Is(err, orchestrator.ErrTimedOut):
		resp.Error = "Generation timed out"
	case errors.Is(err, orchestrator.ErrFetch):
		resp.Error = "Failed to fetch image"
	case errors.Is(err, workflow.ErrTemplateNotBound):
		resp.Error = "Workflow template not loaded"
	}

	var be *orchestrator.BackendError
	if errors.As(err, &be) {
		resp.Details = be.Detail
	}
	return resp
}

func writeError(ctx *fiber.Ctx, logger *log.Logger, err error) error {
	status := errorStatus(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("request failed", "status", status, "err", err)
	} else {
		logger.Warn("request rejected", "status", status, "err", err)
	}
	return ctx.Status(status).JSON(errorBody(err))
}

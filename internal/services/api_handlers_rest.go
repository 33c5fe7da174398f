package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benford266/ComfyImageGen/internal/orchestrator"
	"github.com/benford266/ComfyImageGen/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func (a *Api) Health() fiber.Handler {
	return func(ctx *fiber.Ctx) error {

		return ctx.Status(fiber.StatusOK).JSON(types.HealthResponse{
			Status:    fiber.StatusOK,
			TimeStamp: time.Now().Unix(),
		})
	}
}

func (a *Api) Generate() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		logger := HttpLogger("generate", ctx)

		var requestBody types.GenerateRequest
		if err := ctx.BodyParser(&requestBody); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
				Error: "invalid body: " + err.Error(),
			})
		}

		req := toRequest(requestBody)
		notify := a.hub.Notifier(strings.TrimSpace(requestBody.ClientID), "")

		res, err := a.gen.GenerateNotify(ctx.UserContext(), req, notify)
		if err != nil {
			return writeError(ctx, logger, err)
		}

		logger.Info("image generated", "promptId", res.PromptID, "filename", res.Reference.Filename, "seed", res.Seed)
		return ctx.Status(fiber.StatusOK).JSON(types.GenerateResponse{
			Success:   true,
			ImageUrl:  res.Reference.URL,
			Filename:  res.Reference.Filename,
			Subfolder: res.Reference.Subfolder,
			Type:      res.Reference.Type,
			Seed:      res.Seed,
			PromptId:  res.PromptID,
		})
	}
}

func (a *Api) GenerateAsync() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		logger := HttpLogger("generate_async", ctx)

		if a.async == nil {
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(types.ErrorResponse{
				Error: "async generation not configured",
			})
		}

		var requestBody types.GenerateRequest
		if err := ctx.BodyParser(&requestBody); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
				Error: "invalid body: " + err.Error(),
			})
		}

		clientID := strings.TrimSpace(requestBody.ClientID)
		if clientID == "" {
			return ctx.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
				Error: "clientId is required",
			})
		}

		req := toRequest(requestBody)
		if req.Prompt == "" {
			return writeError(ctx, logger, orchestrator.ErrValidation)
		}

		jobID := uuid.NewString()
		if err := a.async.Enqueue(GenerationJob{
			JobID:    jobID,
			ClientID: clientID,
			Request:  req,
		}); err != nil {
			code := fiber.StatusServiceUnavailable
			if errors.Is(err, ErrGenerationQueueFull) {
				code = fiber.StatusTooManyRequests
			}
			logger.Warn("enqueue failed", "jobId", jobID, "err", err)
			return ctx.Status(code).JSON(types.ErrorResponse{
				Error: err.Error(),
			})
		}

		logger.Debug("generation enqueued", "jobId", jobID, "clientId", clientID)
		return ctx.Status(fiber.StatusAccepted).JSON(types.AsyncGenerateResponse{JobID: jobID})
	}
}

func (a *Api) Status() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		health := a.gen.HealthCheck(ctx.UserContext())
		if !health.Connected {
			HttpLogger("status", ctx).Warn("comfyui unreachable", "err", health.Err)
			return ctx.Status(fiber.StatusInternalServerError).JSON(types.StatusResponse{
				Status: "disconnected",
				Error:  health.Err,
			})
		}

		return ctx.Status(fiber.StatusOK).JSON(types.StatusResponse{
			Status: "connected",
			Queue:  health.Queue,
		})
	}
}

// ProxyImage streams a ComfyUI image through this server so the browser never
// talks to the backend directly.
func (a *Api) ProxyImage() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		logger := HttpLogger("proxy_image", ctx)

		artifact, err := a.gen.Fetch(ctx.UserContext(), ctx.Query("url"))
		if err != nil {
			resp := errorBody(err)
			resp.Details = nil
			if errorStatus(err) >= fiber.StatusInternalServerError {
				logger.Error("image proxy failed", "err", err)
			}
			return ctx.Status(errorStatus(err)).JSON(resp)
		}

		ctx.Set(fiber.HeaderContentType, artifact.ContentType)
		if artifact.Filename != "" {
			ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", artifact.Filename))
		}

		size := -1
		if artifact.ContentLength >= 0 {
			size = int(artifact.ContentLength)
		}
		return ctx.SendStream(artifact.Body, size)
	}
}

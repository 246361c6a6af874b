package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/boardforge/api/internal/middleware"
	"github.com/boardforge/api/internal/model"
	"github.com/boardforge/api/internal/registry"
	"github.com/boardforge/api/internal/service"
	"github.com/boardforge/api/internal/state"
	"github.com/boardforge/api/internal/storage"
	"github.com/boardforge/api/pkg/response"
)

type PacksHandler struct {
	service   *service.PackService
	validator *validator.Validate
}

func NewPacksHandler(svc *service.PackService, v *validator.Validate) *PacksHandler {
	return &PacksHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/packs. The request blocks until the generation
// job completes, is cancelled (499 with partial assets) or fails.
func (h *PacksHandler) Create(c *fiber.Ctx) error {
	var req model.CreatePackRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CreatePack(c.Context(), &req, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, registry.ErrJobActive) {
			return response.Conflict(c, "A generation job is already active for this game", fiber.Map{
				"gameId": req.GameID,
			})
		}
		if errors.Is(err, service.ErrRenderFailed) {
			return response.RendererError(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	if result.Cancelled {
		return response.Cancelled(c, result)
	}
	return response.Created(c, result)
}

// Cancel handles POST /api/packs/jobs/cancel. Idempotent.
func (h *PacksHandler) Cancel(c *fiber.Ctx) error {
	var req model.CancelJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	return response.OK(c, h.service.CancelJob(req.GameID))
}

// Advance handles POST /api/packs/jobs/advance, signalling the gate.
func (h *PacksHandler) Advance(c *fiber.Ctx) error {
	var req model.AdvanceRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	advanced, err := h.service.Advance(req.Channel, req.GameID)
	if err != nil {
		if errors.Is(err, service.ErrNotJobOwner) {
			return response.Forbidden(c, "Progress channel does not belong to this game")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"advanced": advanced})
}

// Status handles GET /api/packs/jobs/status/:gameId.
func (h *PacksHandler) Status(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if gameID == "" {
		return response.ValidationError(c, "Game ID is required", nil)
	}
	return response.OK(c, h.service.JobStatus(gameID))
}

// State handles GET /api/packs/state/:gameId, the full snapshot a
// reconnecting client resyncs from.
func (h *PacksHandler) State(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if gameID == "" {
		return response.ValidationError(c, "Game ID is required", nil)
	}

	data, err := h.service.JobStateJSON(c.Context(), gameID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return response.NotFound(c, "No job state for this game")
		}
		return response.ServiceError(c, err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

// Delete handles DELETE /api/packs/:id.
func (h *PacksHandler) Delete(c *fiber.Ctx) error {
	packID := c.Params("id")
	if packID == "" {
		return response.ValidationError(c, "Pack ID is required", nil)
	}

	if err := h.service.DeletePack(c.Context(), packID, middleware.GetUserID(c)); err != nil {
		if errors.Is(err, storage.ErrPackNotFound) {
			return response.NotFound(c, "Pack not found")
		}
		if errors.Is(err, service.ErrNotPackOwner) {
			return response.Forbidden(c, "Pack belongs to another user")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// DeleteForGame handles DELETE /api/packs/for-game/:gameId.
func (h *PacksHandler) DeleteForGame(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if gameID == "" {
		return response.ValidationError(c, "Game ID is required", nil)
	}

	deleted, err := h.service.DeletePacksForGame(c.Context(), gameID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.DeletePacksResponse{GameID: gameID, Deleted: deleted})
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

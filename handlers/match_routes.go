// handlers/match_routes.go
package handlers

import (
	"errors"

	"rps-match-service/services"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
)

// MatchHandler adapts MatchService actions to HTTP.
type MatchHandler struct {
	svc    *services.MatchService
	hub    *services.Hub
	logger *log.Logger
}

func NewMatchHandler(svc *services.MatchService, hub *services.Hub, logger *log.Logger) *MatchHandler {
	return &MatchHandler{svc: svc, hub: hub, logger: logger.WithPrefix("api")}
}

func SetupMatchRoutes(app *fiber.App, h *MatchHandler) {
	api := app.Group("/api/matches")

	api.Post("/", h.CreateMatch)
	api.Get("/:id", h.GetMatch)
	api.Get("/:id/events", h.StreamMatchEvents)
	api.Post("/:id/join", h.JoinMatch)
	api.Post("/:id/commit", h.CommitMatch)
	api.Post("/:id/reveal", h.RevealMatch)
}

func (h *MatchHandler) CreateMatch(c *fiber.Ctx) error {
	var req services.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	m, err := h.svc.Create(c.UserContext(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": m.ID})
}

func (h *MatchHandler) GetMatch(c *fiber.Ctx) error {
	m, err := h.svc.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(m)
}

func (h *MatchHandler) JoinMatch(c *fiber.Ctx) error {
	var req services.JoinRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	req.MatchID = c.Params("id")
	if _, err := h.svc.Join(c.UserContext(), req); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *MatchHandler) CommitMatch(c *fiber.Ctx) error {
	var req services.CommitRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	req.MatchID = c.Params("id")
	if _, err := h.svc.Commit(c.UserContext(), req); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *MatchHandler) RevealMatch(c *fiber.Ctx) error {
	var req services.RevealRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	req.MatchID = c.Params("id")
	if _, err := h.svc.Reveal(c.UserContext(), req); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   services.ErrValidation.Code,
		"message": "invalid JSON body",
	})
}

// respondError maps a service error to a status and a stable code. Errors
// that are not ActionErrors are reported as "internal" with no detail.
func (h *MatchHandler) respondError(c *fiber.Ctx, err error) error {
	var ae *services.ActionError
	if !errors.As(err, &ae) {
		h.logger.Error("Unhandled error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "internal server error",
		})
	}
	return c.Status(StatusForCode(ae.Code)).JSON(fiber.Map{
		"error":   ae.Code,
		"message": ae.Message,
	})
}

// StatusForCode is the HTTP status for an ActionError code.
func StatusForCode(code string) int {
	switch code {
	case services.ErrValidation.Code:
		return fiber.StatusBadRequest
	case services.ErrNotFound.Code:
		return fiber.StatusNotFound
	case services.ErrInvalidReveal.Code:
		return fiber.StatusUnprocessableEntity
	case services.ErrStoreContention.Code:
		return fiber.StatusServiceUnavailable
	case services.ErrAlreadyJoined.Code,
		services.ErrCannotJoinOwn.Code,
		services.ErrWrongPhase.Code,
		services.ErrDeadlinePassed.Code,
		services.ErrNotAPlayer.Code,
		services.ErrAlreadyCommitted.Code,
		services.ErrNoCommit.Code,
		services.ErrAlreadyRevealed.Code:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

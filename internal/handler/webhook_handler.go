package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/edassess/naplan-api/internal/dto"
	"github.com/edassess/naplan-api/internal/utils"
)

// EventDispatcher is the slice of the dispatch service the webhook handler needs.
type EventDispatcher interface {
	Dispatch(ctx context.Context, env dto.EventEnvelope) (dto.WebhookAck, error)
}

// WebhookHandler receives platform webhook deliveries. The handler is
// intentionally thin: parse, dispatch, acknowledge. All real work happens behind
// the dispatcher so the platform's delivery timeout is never at risk.
type WebhookHandler struct {
	dispatcher EventDispatcher
	logger     zerolog.Logger
}

// NewWebhookHandler constructs a webhook handler.
func NewWebhookHandler(dispatcher EventDispatcher, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "webhook_handler").Logger(),
	}
}

// Register wires webhook routes.
func (h *WebhookHandler) Register(router fiber.Router) {
	router.Post("/events", h.receive)
}

func (h *WebhookHandler) receive(c *fiber.Ctx) error {
	var env dto.EventEnvelope
	if err := c.BodyParser(&env); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	ack, err := h.dispatcher.Dispatch(c.UserContext(), env)
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejected webhook envelope")
		return utils.SendError(c, fiber.StatusBadRequest, "invalid event envelope")
	}

	// The ack shape is part of the platform contract, so it bypasses the common
	// response wrapper.
	return c.Status(fiber.StatusOK).JSON(ack)
}

package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/edassess/naplan-api/internal/dto"
	"github.com/edassess/naplan-api/internal/repository"
	"github.com/edassess/naplan-api/internal/utils"
)

// Retryer re-runs an enrichment pipeline for one record.
type Retryer interface {
	Retry(ctx context.Context, responseID string) error
}

// SubmissionHandler exposes the operator endpoints: record listing, record
// lookup and manual enrichment retries.
type SubmissionHandler struct {
	scoredRepo   repository.ScoredSubmissionRepository
	writtenRepo  repository.WrittenSubmissionRepository
	scoredRetry  Retryer
	writingRetry Retryer
	logger       zerolog.Logger
}

// NewSubmissionHandler constructs a submission handler.
func NewSubmissionHandler(
	scoredRepo repository.ScoredSubmissionRepository,
	writtenRepo repository.WrittenSubmissionRepository,
	scoredRetry Retryer,
	writingRetry Retryer,
	logger zerolog.Logger,
) *SubmissionHandler {
	return &SubmissionHandler{
		scoredRepo:   scoredRepo,
		writtenRepo:  writtenRepo,
		scoredRetry:  scoredRetry,
		writingRetry: writingRetry,
		logger:       logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register wires submission routes.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Get("/scored", h.listScored)
	router.Get("/scored/:responseID", h.getScored)
	router.Post("/scored/:responseID/retry", h.retryScored)

	router.Get("/written", h.listWritten)
	router.Get("/written/:responseID", h.getWritten)
	router.Post("/written/:responseID/retry", h.retryWritten)
}

func (h *SubmissionHandler) listScored(c *fiber.Ctx) error {
	limit, offset := paging(c)

	items, err := h.scoredRepo.List(c.UserContext(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list scored submissions")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list submissions")
	}

	return utils.SendSuccess(c, "scored submissions retrieved", dto.NewScoredSubmissionResponseSlice(items))
}

func (h *SubmissionHandler) getScored(c *fiber.Ctx) error {
	sub, err := h.scoredRepo.GetByResponseID(c.UserContext(), c.Params("responseID"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		h.logger.Error().Err(err).Msg("failed to load scored submission")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load submission")
	}

	return utils.SendSuccess(c, "scored submission retrieved", dto.NewScoredSubmissionResponse(sub))
}

func (h *SubmissionHandler) retryScored(c *fiber.Ctx) error {
	responseID := c.Params("responseID")

	if err := h.scoredRetry.Retry(c.UserContext(), responseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		h.logger.Error().Err(err).Str("response_id", responseID).Msg("scored retry failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "retry failed")
	}

	return utils.SendSuccess(c, "retry completed", nil)
}

func (h *SubmissionHandler) listWritten(c *fiber.Ctx) error {
	limit, offset := paging(c)

	items, err := h.writtenRepo.List(c.UserContext(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list written submissions")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list submissions")
	}

	return utils.SendSuccess(c, "written submissions retrieved", dto.NewWrittenSubmissionResponseSlice(items))
}

func (h *SubmissionHandler) getWritten(c *fiber.Ctx) error {
	sub, err := h.writtenRepo.GetByResponseID(c.UserContext(), c.Params("responseID"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		h.logger.Error().Err(err).Msg("failed to load written submission")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load submission")
	}

	return utils.SendSuccess(c, "written submission retrieved", dto.NewWrittenSubmissionResponse(sub))
}

func (h *SubmissionHandler) retryWritten(c *fiber.Ctx) error {
	responseID := c.Params("responseID")

	if err := h.writingRetry.Retry(c.UserContext(), responseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		h.logger.Error().Err(err).Str("response_id", responseID).Msg("written retry failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "retry failed")
	}

	return utils.SendSuccess(c, "retry completed", nil)
}

func paging(c *fiber.Ctx) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit", "50"))
	offset, _ = strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/edassess/naplan-api/internal/dto"
	"github.com/edassess/naplan-api/internal/handler"
	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/repository"
)

type recordingRetryer struct {
	responseIDs []string
	err         error
}

func (r *recordingRetryer) Retry(_ context.Context, responseID string) error {
	r.responseIDs = append(r.responseIDs, responseID)
	return r.err
}

func newSubmissionApp(t *testing.T) (*fiber.App, repository.ScoredSubmissionRepository, repository.WrittenSubmissionRepository, *recordingRetryer, *recordingRetryer) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScoredSubmission{}, &models.WrittenSubmission{}))

	scoredRepo := repository.NewScoredSubmissionRepository(db)
	writtenRepo := repository.NewWrittenSubmissionRepository(db)
	scoredRetry := &recordingRetryer{}
	writingRetry := &recordingRetryer{}

	app := fiber.New()
	h := handler.NewSubmissionHandler(scoredRepo, writtenRepo, scoredRetry, writingRetry, zerolog.Nop())
	h.Register(app.Group("/api/v1/submissions"))

	return app, scoredRepo, writtenRepo, scoredRetry, writingRetry
}

func TestSubmissionHandler_GetScored(t *testing.T) {
	app, scoredRepo, _, _, _ := newSubmissionApp(t)

	rec := models.ScoredSubmission{
		ResponseID:       "r-1",
		QuizName:         "Year 5 Numeracy",
		Percentage:       75,
		EnrichmentStatus: models.ScoredStatusDone,
	}
	require.NoError(t, scoredRepo.UpsertByResponseID(context.Background(), &rec))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/scored/r-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool                         `json:"success"`
		Data    dto.ScoredSubmissionResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()

	require.True(t, payload.Success)
	require.Equal(t, "r-1", payload.Data.ResponseID)
	require.Equal(t, "done", payload.Data.Enrichment.Status)
}

func TestSubmissionHandler_GetScoredNotFound(t *testing.T) {
	app, _, _, _, _ := newSubmissionApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/scored/missing", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSubmissionHandler_ListWritten(t *testing.T) {
	app, _, writtenRepo, _, _ := newSubmissionApp(t)

	rec := models.WrittenSubmission{
		ResponseID:       "r-1",
		QuizName:         "Year 5 Writing",
		Status:           models.WrittenRecordReceived,
		EnrichmentStatus: models.WritingStatusQueued,
	}
	require.NoError(t, writtenRepo.UpsertByResponseID(context.Background(), &rec))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/written", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool                            `json:"success"`
		Data    []dto.WrittenSubmissionResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()

	require.True(t, payload.Success)
	require.Len(t, payload.Data, 1)
	require.Equal(t, "r-1", payload.Data[0].ResponseID)
}

func TestSubmissionHandler_RetryRoutes(t *testing.T) {
	app, _, _, scoredRetry, writingRetry := newSubmissionApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/submissions/scored/r-1/retry", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"r-1"}, scoredRetry.responseIDs)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/submissions/written/r-2/retry", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"r-2"}, writingRetry.responseIDs)
}

package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/edassess/naplan-api/internal/models"
)

func TestWrittenRepoUpsertKeepsOneRowPerResponseID(t *testing.T) {
	db := newTestDB(t)
	repo := NewWrittenSubmissionRepository(db)
	ctx := context.Background()

	first := models.WrittenSubmission{
		ResponseID:       "r-1",
		QuizName:         "Year 5 Writing",
		Status:           models.WrittenRecordReceived,
		EnrichmentStatus: models.WritingStatusQueued,
	}
	require.NoError(t, repo.UpsertByResponseID(ctx, &first))

	second := models.WrittenSubmission{
		ResponseID:       "r-1",
		QuizName:         "Year 5 Writing (resit)",
		Status:           models.WrittenRecordReceived,
		EnrichmentStatus: models.WritingStatusQueued,
	}
	require.NoError(t, repo.UpsertByResponseID(ctx, &second))
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.WrittenSubmission{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestWrittenRepoPersistsAnswers(t *testing.T) {
	db := newTestDB(t)
	repo := NewWrittenSubmissionRepository(db)
	ctx := context.Background()

	raw, err := json.Marshal([]models.QuestionAnswer{
		{Question: "Describe your best day.", Answer: "It started with rain."},
	})
	require.NoError(t, err)

	sub := models.WrittenSubmission{
		ResponseID:       "r-1",
		Status:           models.WrittenRecordReceived,
		EnrichmentStatus: models.WritingStatusFetching,
		Answers:          datatypes.JSON(raw),
		WordCount:        4,
	}
	require.NoError(t, repo.UpsertByResponseID(ctx, &sub))

	stored, err := repo.GetByResponseID(ctx, "r-1")
	require.NoError(t, err)

	var answers []models.QuestionAnswer
	require.NoError(t, json.Unmarshal(stored.Answers, &answers))
	require.Len(t, answers, 1)
	require.Equal(t, "It started with rain.", answers[0].Answer)
}

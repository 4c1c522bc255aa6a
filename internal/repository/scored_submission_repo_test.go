package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/edassess/naplan-api/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScoredSubmission{}, &models.WrittenSubmission{}))
	return db
}

func TestScoredRepoUpsertKeepsOneRowPerResponseID(t *testing.T) {
	db := newTestDB(t)
	repo := NewScoredSubmissionRepository(db)
	ctx := context.Background()

	first := models.ScoredSubmission{
		ResponseID:       "r-1",
		QuizName:         "Year 5 Numeracy",
		EnrichmentStatus: models.ScoredStatusQueued,
	}
	require.NoError(t, repo.UpsertByResponseID(ctx, &first))

	second := models.ScoredSubmission{
		ResponseID:       "r-1",
		QuizName:         "Year 5 Numeracy (retake)",
		EnrichmentStatus: models.ScoredStatusQueued,
	}
	require.NoError(t, repo.UpsertByResponseID(ctx, &second))
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.ScoredSubmission{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	stored, err := repo.GetByResponseID(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, "Year 5 Numeracy (retake)", stored.QuizName)
}

func TestScoredRepoDeleteReportsExistence(t *testing.T) {
	db := newTestDB(t)
	repo := NewScoredSubmissionRepository(db)
	ctx := context.Background()

	sub := models.ScoredSubmission{ResponseID: "r-1", EnrichmentStatus: models.ScoredStatusQueued}
	require.NoError(t, repo.UpsertByResponseID(ctx, &sub))

	deleted, err := repo.DeleteByResponseID(ctx, "r-1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = repo.DeleteByResponseID(ctx, "r-1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestScoredRepoPersistsTopicBreakdown(t *testing.T) {
	db := newTestDB(t)
	repo := NewScoredSubmissionRepository(db)
	ctx := context.Background()

	sub := models.ScoredSubmission{
		ResponseID:       "r-1",
		EnrichmentStatus: models.ScoredStatusFetching,
		TopicBreakdown: datatypes.JSONMap{
			"Algebra": map[string]interface{}{"scored": 3.0, "total": 4.0},
		},
	}
	require.NoError(t, repo.UpsertByResponseID(ctx, &sub))

	stored, err := repo.GetByResponseID(ctx, "r-1")
	require.NoError(t, err)
	require.Contains(t, stored.TopicBreakdown, "Algebra")
}

func TestScoredRepoSubjectIdentityUpdates(t *testing.T) {
	db := newTestDB(t)
	repo := NewScoredSubmissionRepository(db)
	ctx := context.Background()

	sub := models.ScoredSubmission{ResponseID: "r-1", SubjectID: "u-1", EnrichmentStatus: models.ScoredStatusQueued}
	require.NoError(t, repo.UpsertByResponseID(ctx, &sub))

	require.NoError(t, repo.UpdateSubjectIdentity(ctx, "u-1", models.SubjectIdentity{
		Username: "alex99",
		Name:     "Alex",
		Email:    "alex@example.com",
	}))

	stored, err := repo.GetByResponseID(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, "Alex", stored.SubjectName)

	require.NoError(t, repo.ClearSubjectIdentity(ctx, "u-1"))
	stored, err = repo.GetByResponseID(ctx, "r-1")
	require.NoError(t, err)
	require.Empty(t, stored.SubjectID)
	require.Empty(t, stored.SubjectEmail)
}

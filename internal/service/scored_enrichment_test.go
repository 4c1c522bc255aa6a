package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/repository"
	"github.com/edassess/naplan-api/pkg/engine"
	"github.com/edassess/naplan-api/pkg/quizapi"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScoredSubmission{}, &models.WrittenSubmission{}))
	return db
}

type stubResultFetcher struct {
	calls   int
	batches [][]quizapi.QuestionResult
	err     error
}

func (s *stubResultFetcher) QuestionResults(context.Context, string, string) ([]quizapi.QuestionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	if len(s.batches) > 1 {
		s.batches = s.batches[1:]
	}
	return batch, nil
}

type stubEngine struct {
	feedbackCalls int
	writingCalls  int
	feedback      engine.SubjectFeedbackResult
	feedbackErr   error
	writing       engine.WritingResult
	writingErr    error
}

func (s *stubEngine) GenerateSubjectFeedback(context.Context, engine.SubjectFeedbackRequest) (engine.SubjectFeedbackResult, error) {
	s.feedbackCalls++
	if s.feedbackErr != nil {
		return engine.SubjectFeedbackResult{}, s.feedbackErr
	}
	return s.feedback, nil
}

func (s *stubEngine) EvaluateWriting(context.Context, engine.WritingRequest) (engine.WritingResult, error) {
	s.writingCalls++
	if s.writingErr != nil {
		return engine.WritingResult{}, s.writingErr
	}
	return s.writing, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func seedScored(t *testing.T, repo repository.ScoredSubmissionRepository, responseID string) {
	t.Helper()
	rec := models.ScoredSubmission{
		ResponseID:       responseID,
		QuizID:           "q-1",
		QuizName:         "Year 5 Numeracy",
		Points:           3,
		Available:        4,
		Percentage:       75,
		EnrichmentStatus: models.ScoredStatusQueued,
	}
	require.NoError(t, repo.UpsertByResponseID(context.Background(), &rec))
}

func TestScoredEnrichmentCompletes(t *testing.T) {
	repo := repository.NewScoredSubmissionRepository(newTestDB(t))
	seedScored(t, repo, "r-1")

	fetcher := &stubResultFetcher{batches: [][]quizapi.QuestionResult{{
		{Question: "1", Category: "Algebra", Scored: 2, Available: 2},
		{Question: "2", Category: "Algebra", Scored: 1, Available: 2},
		{Question: "3", Category: "Geometry", Scored: 0, Available: 1},
	}}}
	eng := &stubEngine{feedback: engine.SubjectFeedbackResult{
		Success:    true,
		AIFeedback: map[string]interface{}{"overall_feedback": "Keep going."},
		Meta:       map[string]interface{}{"model": "gpt-4o-mini"},
	}}

	svc := NewScoredEnrichmentService(repo, fetcher, eng, zerolog.Nop()).(*scoredEnrichmentService)
	svc.sleep = noSleep

	require.NoError(t, svc.Enrich(context.Background(), "r-1"))

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.ScoredStatusDone, stored.EnrichmentStatus)
	require.Equal(t, "gpt-4o-mini", stored.FeedbackModel)
	require.NotNil(t, stored.EvaluatedAt)

	algebra, ok := stored.TopicBreakdown["Algebra"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 3, algebra["scored"])
	require.EqualValues(t, 4, algebra["total"])
}

func TestScoredEnrichmentRetriesEmptyResultsExactlyThreeTimes(t *testing.T) {
	repo := repository.NewScoredSubmissionRepository(newTestDB(t))
	seedScored(t, repo, "r-1")

	fetcher := &stubResultFetcher{} // always empty
	eng := &stubEngine{}

	svc := NewScoredEnrichmentService(repo, fetcher, eng, zerolog.Nop()).(*scoredEnrichmentService)
	svc.sleep = noSleep

	require.Error(t, svc.Enrich(context.Background(), "r-1"))
	require.Equal(t, 3, fetcher.calls)
	require.Zero(t, eng.feedbackCalls)

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.ScoredStatusError, stored.EnrichmentStatus)
	require.Equal(t, "topic detail unavailable", stored.EnrichmentMessage)
	require.NotEmpty(t, stored.EnrichmentError)
}

func TestScoredEnrichmentEngineRetriesAreBounded(t *testing.T) {
	repo := repository.NewScoredSubmissionRepository(newTestDB(t))
	seedScored(t, repo, "r-1")

	fetcher := &stubResultFetcher{batches: [][]quizapi.QuestionResult{{
		{Question: "1", Category: "Algebra", Scored: 1, Available: 1},
	}}}
	eng := &stubEngine{feedbackErr: errors.New("model unavailable")}

	svc := NewScoredEnrichmentService(repo, fetcher, eng, zerolog.Nop()).(*scoredEnrichmentService)
	svc.sleep = noSleep

	require.Error(t, svc.Enrich(context.Background(), "r-1"))
	require.Equal(t, 3, eng.feedbackCalls)

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.ScoredStatusError, stored.EnrichmentStatus)
	// The breakdown from the successful fetch step survives the engine failure.
	require.Contains(t, stored.TopicBreakdown, "Algebra")
}

func TestScoredRetryRerunsErroredRecord(t *testing.T) {
	repo := repository.NewScoredSubmissionRepository(newTestDB(t))
	seedScored(t, repo, "r-1")

	fetcher := &stubResultFetcher{}
	eng := &stubEngine{feedback: engine.SubjectFeedbackResult{
		Success:    true,
		AIFeedback: map[string]interface{}{"overall_feedback": "Better."},
	}}

	svc := NewScoredEnrichmentService(repo, fetcher, eng, zerolog.Nop()).(*scoredEnrichmentService)
	svc.sleep = noSleep

	require.Error(t, svc.Enrich(context.Background(), "r-1"))

	fetcher.batches = [][]quizapi.QuestionResult{{
		{Question: "1", Category: "Reading", Scored: 1, Available: 1},
	}}
	require.NoError(t, svc.Retry(context.Background(), "r-1"))

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.ScoredStatusDone, stored.EnrichmentStatus)
	require.Empty(t, stored.EnrichmentError)
}

func TestAggregateTopicsBucketsUncategorised(t *testing.T) {
	breakdown := AggregateTopics([]quizapi.QuestionResult{
		{Question: "1", Scored: 1, Available: 1},
		{Question: "2", Category: "Algebra", Scored: 0, Available: 2},
	})

	require.Contains(t, breakdown, "General")
	require.Contains(t, breakdown, "Algebra")
}

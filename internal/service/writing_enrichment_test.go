package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/repository"
	"github.com/edassess/naplan-api/pkg/engine"
	"github.com/edassess/naplan-api/pkg/quizapi"
)

type stubDetailFetcher struct {
	detail quizapi.ResponseDetail
	err    error
}

func (s *stubDetailFetcher) ResponseDetail(context.Context, string, string) (quizapi.ResponseDetail, error) {
	if s.err != nil {
		return quizapi.ResponseDetail{}, s.err
	}
	return s.detail, nil
}

func seedWritten(t *testing.T, repo repository.WrittenSubmissionRepository, responseID, quizName string) {
	t.Helper()
	rec := models.WrittenSubmission{
		ResponseID:       responseID,
		QuizID:           "q-1",
		QuizName:         quizName,
		Status:           models.WrittenRecordReceived,
		EnrichmentStatus: models.WritingStatusQueued,
	}
	require.NoError(t, repo.UpsertByResponseID(context.Background(), &rec))
}

func TestWritingIgnoredWhenNotSubmitted(t *testing.T) {
	repo := repository.NewWrittenSubmissionRepository(newTestDB(t))
	seedWritten(t, repo, "r-1", "Year 5 Writing")

	fetcher := &stubDetailFetcher{detail: quizapi.ResponseDetail{Status: "in_progress"}}
	eng := &stubEngine{}

	svc := NewWritingEnrichmentService(repo, fetcher, eng, zerolog.Nop())
	require.NoError(t, svc.Enrich(context.Background(), "r-1"))

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.WrittenRecordIgnored, stored.Status)
	require.Equal(t, models.WritingStatusDone, stored.EnrichmentStatus)
	require.Zero(t, eng.writingCalls)
}

func TestWritingShortAnswerSettlesLocally(t *testing.T) {
	repo := repository.NewWrittenSubmissionRepository(newTestDB(t))
	seedWritten(t, repo, "r-1", "Year 5 Writing")

	fetcher := &stubDetailFetcher{detail: quizapi.ResponseDetail{
		Status: "submitted",
		Prompt: "Describe your best day.",
		Answers: []quizapi.Answer{
			{Question: "Describe your best day.", Text: "It was really good fun."},
		},
	}}
	eng := &stubEngine{}

	svc := NewWritingEnrichmentService(repo, fetcher, eng, zerolog.Nop())
	require.NoError(t, svc.Enrich(context.Background(), "r-1"))

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.WritingStatusDone, stored.EnrichmentStatus)
	require.Equal(t, VerdictNotEnoughResponse, stored.AIFeedback["verdict"])
	require.EqualValues(t, 5, stored.WordCount)
	require.Zero(t, eng.writingCalls)
}

func TestVerifyHardStopPrecedence(t *testing.T) {
	words := func(n int) string {
		return strings.TrimSpace(strings.Repeat("word ", n))
	}

	cases := []struct {
		name    string
		writing string
		verdict string
	}{
		{name: "empty", writing: "   ", verdict: VerdictNotAttempted},
		{name: "under twenty words", writing: words(15), verdict: VerdictNotEnoughResponse},
		{name: "single line under forty words", writing: words(35), verdict: VerdictInsufficientResponse},
		{name: "multi line under forty words", writing: words(20) + "\n" + words(15), verdict: ""},
		{name: "long single line", writing: words(60), verdict: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, _ := verify(tc.writing)
			require.Equal(t, tc.verdict, verdict)
		})
	}
}

func TestWritingEvaluationSuccess(t *testing.T) {
	repo := repository.NewWrittenSubmissionRepository(newTestDB(t))
	seedWritten(t, repo, "r-1", "Year 7 Writing Test")

	answer := strings.TrimSpace(strings.Repeat("The storm rolled over the hills and the town went quiet. ", 12))
	fetcher := &stubDetailFetcher{detail: quizapi.ResponseDetail{
		Status: "submitted",
		Prompt: "Write a narrative about a storm.",
		Answers: []quizapi.Answer{
			{Question: "Write a narrative about a storm.", Text: answer},
		},
	}}
	eng := &stubEngine{writing: engine.WritingResult{
		Success: true,
		Result: map[string]interface{}{
			"overall": map[string]interface{}{"total_score": 30.0, "max_score": 48.0},
		},
	}}

	svc := NewWritingEnrichmentService(repo, fetcher, eng, zerolog.Nop())
	require.NoError(t, svc.Enrich(context.Background(), "r-1"))

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.WritingStatusDone, stored.EnrichmentStatus)
	require.Equal(t, 7, stored.YearLevel)
	require.Equal(t, 1, eng.writingCalls)
	require.Contains(t, stored.AIFeedback, "overall")
	require.Contains(t, stored.AIFeedback, "word_count_feedback")
	require.NotNil(t, stored.EvaluatedAt)
}

func TestWritingEngineFailureIsTerminal(t *testing.T) {
	repo := repository.NewWrittenSubmissionRepository(newTestDB(t))
	seedWritten(t, repo, "r-1", "Year 5 Writing")

	answer := strings.TrimSpace(strings.Repeat("A long and detailed answer follows here today. ", 10))
	fetcher := &stubDetailFetcher{detail: quizapi.ResponseDetail{
		Status: "submitted",
		Answers: []quizapi.Answer{
			{Question: "Prompt", Text: answer + "\nAnd a second paragraph closes the piece."},
		},
	}}
	eng := &stubEngine{writingErr: errors.New("model unavailable")}

	svc := NewWritingEnrichmentService(repo, fetcher, eng, zerolog.Nop())
	require.Error(t, svc.Enrich(context.Background(), "r-1"))
	require.Equal(t, 1, eng.writingCalls)

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.WritingStatusError, stored.EnrichmentStatus)
	require.NotEmpty(t, stored.EnrichmentError)
}

func TestWritingRetryAfterEngineFailure(t *testing.T) {
	repo := repository.NewWrittenSubmissionRepository(newTestDB(t))
	seedWritten(t, repo, "r-1", "Year 5 Writing")

	answer := strings.TrimSpace(strings.Repeat("A long and detailed answer follows here today. ", 10))
	fetcher := &stubDetailFetcher{detail: quizapi.ResponseDetail{
		Status: "submitted",
		Answers: []quizapi.Answer{
			{Question: "Prompt", Text: answer + "\nAnd a second paragraph closes the piece."},
		},
	}}
	eng := &stubEngine{writingErr: errors.New("model unavailable")}

	svc := NewWritingEnrichmentService(repo, fetcher, eng, zerolog.Nop())
	require.Error(t, svc.Enrich(context.Background(), "r-1"))

	eng.writingErr = nil
	eng.writing = engine.WritingResult{Success: true, Result: map[string]interface{}{"overall": map[string]interface{}{}}}
	require.NoError(t, svc.Retry(context.Background(), "r-1"))

	stored, err := repo.GetByResponseID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, models.WritingStatusDone, stored.EnrichmentStatus)
	require.Empty(t, stored.EnrichmentError)
}

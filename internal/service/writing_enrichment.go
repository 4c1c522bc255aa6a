package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/observability"
	"github.com/edassess/naplan-api/internal/repository"
	"github.com/edassess/naplan-api/internal/textutil"
	"github.com/edassess/naplan-api/pkg/engine"
	"github.com/edassess/naplan-api/pkg/quizapi"
)

const (
	// Below minEngineWords the answer is too short for the engine to say anything
	// useful, so the pipeline settles it locally.
	minEngineWords = 20
	// A single-line answer under this many words is treated as a throwaway.
	minSingleLineWords = 40

	defaultYearLevel = 3
)

// Local verdicts produced by the verifying step. Each settles the record as done
// without an engine invocation.
const (
	VerdictNotAttempted         = "not_attempted"
	VerdictNotEnoughResponse    = "not_enough_response"
	VerdictInsufficientResponse = "insufficient_response"
)

// ResponseDetailFetcher is the slice of the quiz API the writing pipeline needs.
type ResponseDetailFetcher interface {
	ResponseDetail(ctx context.Context, quizID, responseID string) (quizapi.ResponseDetail, error)
}

// WritingEnrichmentService runs the enrichment for written submissions: fetch the
// response text, apply the deterministic short-answer hard stops, and only then
// spend an engine invocation on a real evaluation.
type WritingEnrichmentService interface {
	Enrich(ctx context.Context, responseID string) error
	Retry(ctx context.Context, responseID string) error
}

type writingEnrichmentService struct {
	repo    repository.WrittenSubmissionRepository
	quizzes ResponseDetailFetcher
	engine  engine.Engine
	logger  zerolog.Logger
	now     func() time.Time
}

// NewWritingEnrichmentService wires the writing pipeline.
func NewWritingEnrichmentService(
	repo repository.WrittenSubmissionRepository,
	quizzes ResponseDetailFetcher,
	eng engine.Engine,
	logger zerolog.Logger,
) WritingEnrichmentService {
	return &writingEnrichmentService{
		repo:    repo,
		quizzes: quizzes,
		engine:  eng,
		logger:  logger.With().Str("component", "writing_enrichment").Logger(),
		now:     time.Now,
	}
}

// Enrich runs the pipeline for the record keyed by responseID. Engine failures
// are terminal: a written evaluation is expensive enough that reruns go through
// the explicit Retry entry point rather than automatic backoff.
func (s *writingEnrichmentService) Enrich(ctx context.Context, responseID string) error {
	timer := prometheus.NewTimer(observability.EnrichmentDuration().WithLabelValues("writing"))
	defer timer.ObserveDuration()

	rec, err := s.repo.GetByResponseID(ctx, responseID)
	if err != nil {
		return fmt.Errorf("load written submission %s: %w", responseID, err)
	}

	log := s.logger.With().Str("response_id", responseID).Str("quiz_id", rec.QuizID).Logger()

	if err := s.setStatus(ctx, &rec, models.WritingStatusFetching, ""); err != nil {
		return err
	}

	detail, err := s.quizzes.ResponseDetail(ctx, rec.QuizID, rec.ResponseID)
	if err != nil {
		return s.fail(ctx, &rec, log, "response detail fetch failed", err)
	}

	if !strings.EqualFold(detail.Status, "submitted") {
		rec.Status = models.WrittenRecordIgnored
		rec.EnrichmentMessage = fmt.Sprintf("response status %q is not submitted; ignored", detail.Status)
		if err := s.setStatus(ctx, &rec, models.WritingStatusDone, rec.EnrichmentMessage); err != nil {
			return err
		}
		log.Info().Str("response_status", detail.Status).Msg("written submission ignored")
		return nil
	}

	answers := make([]models.QuestionAnswer, 0, len(detail.Answers))
	for _, a := range detail.Answers {
		answers = append(answers, models.QuestionAnswer{
			Question: textutil.StripMarkup(a.Question),
			Answer:   textutil.StripMarkup(a.Text),
		})
	}
	if raw, err := json.Marshal(answers); err == nil {
		rec.Answers = datatypes.JSON(raw)
	}

	writing, prompt := primaryAnswer(detail.Prompt, answers)
	rec.WordCount = textutil.CountWords(writing)

	if err := s.setStatus(ctx, &rec, models.WritingStatusVerifying, ""); err != nil {
		return err
	}

	if verdict, message := verify(writing); verdict != "" {
		rec.AIFeedback = datatypes.JSONMap{
			"verdict":    verdict,
			"word_count": rec.WordCount,
			"message":    message,
			"source":     "local",
		}
		rec.EnrichmentMessage = message
		evaluated := s.now()
		rec.EvaluatedAt = &evaluated
		if err := s.setStatus(ctx, &rec, models.WritingStatusDone, message); err != nil {
			return err
		}
		log.Info().Str("verdict", verdict).Int("word_count", rec.WordCount).Msg("written submission settled locally")
		return nil
	}

	if err := s.setStatus(ctx, &rec, models.WritingStatusGenerating, ""); err != nil {
		return err
	}

	rec.YearLevel = textutil.InferYearLevel(rec.QuizName+" "+prompt, defaultYearLevel)

	result, err := s.engine.EvaluateWriting(ctx, engine.WritingRequest{
		StudentYear:    rec.YearLevel,
		WritingPrompt:  prompt,
		StudentWriting: writing,
	})
	switch {
	case err != nil:
		return s.fail(ctx, &rec, log, "writing evaluation failed", err)
	case !result.Success:
		return s.fail(ctx, &rec, log, "writing evaluation failed", fmt.Errorf("engine reported failure: %s", result.Error))
	}

	feedback := make(datatypes.JSONMap, len(result.Result)+2)
	for k, v := range result.Result {
		feedback[k] = v
	}
	feedback["word_count"] = rec.WordCount
	feedback["word_count_feedback"] = textutil.WordCountFeedback(rec.YearLevel, rec.WordCount)
	rec.AIFeedback = feedback

	evaluated := s.now()
	rec.EvaluatedAt = &evaluated

	if err := s.setStatus(ctx, &rec, models.WritingStatusDone, "writing evaluation generated"); err != nil {
		return err
	}

	log.Info().Int("year_level", rec.YearLevel).Int("word_count", rec.WordCount).Msg("writing enrichment complete")
	return nil
}

// Retry resets an errored record back to queued and reruns the pipeline.
func (s *writingEnrichmentService) Retry(ctx context.Context, responseID string) error {
	rec, err := s.repo.GetByResponseID(ctx, responseID)
	if err != nil {
		return fmt.Errorf("load written submission %s: %w", responseID, err)
	}

	if rec.EnrichmentStatus == models.WritingStatusDone && rec.EnrichmentError == "" {
		return nil
	}

	rec.EnrichmentStatus = models.WritingStatusQueued
	rec.EnrichmentMessage = ""
	rec.EnrichmentError = ""
	if err := s.repo.Update(ctx, &rec); err != nil {
		return fmt.Errorf("reset written submission %s: %w", responseID, err)
	}

	return s.Enrich(ctx, responseID)
}

// primaryAnswer picks the writing text the engine evaluates: the first answer is
// the student's piece, and the question text backfills the prompt when the
// platform omits one.
func primaryAnswer(prompt string, answers []models.QuestionAnswer) (writing, resolvedPrompt string) {
	resolvedPrompt = strings.TrimSpace(prompt)
	if len(answers) == 0 {
		return "", resolvedPrompt
	}
	if resolvedPrompt == "" {
		resolvedPrompt = answers[0].Question
	}
	return answers[0].Answer, resolvedPrompt
}

// verify applies the deterministic hard stops in precedence order. An empty
// verdict means the answer is substantial enough for the engine.
func verify(writing string) (verdict, message string) {
	words := textutil.CountWords(writing)
	lines := textutil.CountNonEmptyLines(writing)

	switch {
	case words == 0:
		return VerdictNotAttempted, "No writing was submitted for this response."
	case words < minEngineWords:
		return VerdictNotEnoughResponse, fmt.Sprintf("The response contains only %d words, which is not enough for an evaluation.", words)
	case lines == 1 && words < minSingleLineWords:
		return VerdictInsufficientResponse, fmt.Sprintf("A single line of %d words is insufficient for an evaluation.", words)
	default:
		return "", ""
	}
}

func (s *writingEnrichmentService) setStatus(ctx context.Context, rec *models.WrittenSubmission, next models.WritingStatus, message string) error {
	if rec.EnrichmentStatus != next && !rec.EnrichmentStatus.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s for %s", rec.EnrichmentStatus, next, rec.ResponseID)
	}

	rec.EnrichmentStatus = next
	if message != "" {
		rec.EnrichmentMessage = message
	}
	return s.repo.Update(ctx, rec)
}

func (s *writingEnrichmentService) fail(ctx context.Context, rec *models.WrittenSubmission, log zerolog.Logger, message string, cause error) error {
	log.Error().Err(cause).Msg(message)

	rec.EnrichmentStatus = models.WritingStatusError
	rec.EnrichmentMessage = message
	rec.EnrichmentError = cause.Error()
	if err := s.repo.Update(ctx, rec); err != nil {
		return fmt.Errorf("persist error state %s: %w", rec.ResponseID, err)
	}
	return fmt.Errorf("%s: %w", message, cause)
}

// Package service hosts the webhook dispatcher and the two enrichment pipelines.
// The dispatcher acknowledges fast and hands work to the pipelines; the pipelines
// own the lifecycle of their records and never fail a webhook acknowledgment.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/observability"
	"github.com/edassess/naplan-api/internal/repository"
	"github.com/edassess/naplan-api/pkg/engine"
	"github.com/edassess/naplan-api/pkg/quizapi"
)

const (
	topicFetchAttempts = 3
	topicFetchDelay    = 1500 * time.Millisecond

	feedbackAttempts = 3
	feedbackDelay    = 2 * time.Second
)

// QuestionResultFetcher is the slice of the quiz API the scored pipeline needs.
type QuestionResultFetcher interface {
	QuestionResults(ctx context.Context, quizID, responseID string) ([]quizapi.QuestionResult, error)
}

// ScoredEnrichmentService runs the two-step enrichment for scored submissions:
// fetch per-question detail and aggregate it by topic, then generate subject
// feedback through the scoring engine.
type ScoredEnrichmentService interface {
	Enrich(ctx context.Context, responseID string) error
	Retry(ctx context.Context, responseID string) error
}

type scoredEnrichmentService struct {
	repo    repository.ScoredSubmissionRepository
	quizzes QuestionResultFetcher
	engine  engine.Engine
	logger  zerolog.Logger

	// sleep is swapped out in tests so retry backoff does not slow the suite.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewScoredEnrichmentService wires the scored pipeline.
func NewScoredEnrichmentService(
	repo repository.ScoredSubmissionRepository,
	quizzes QuestionResultFetcher,
	eng engine.Engine,
	logger zerolog.Logger,
) ScoredEnrichmentService {
	return &scoredEnrichmentService{
		repo:    repo,
		quizzes: quizzes,
		engine:  eng,
		logger:  logger.With().Str("component", "scored_enrichment").Logger(),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Enrich runs the pipeline for the record keyed by responseID. Failures are
// written onto the record; the returned error exists for the caller's logging
// and error counting only.
func (s *scoredEnrichmentService) Enrich(ctx context.Context, responseID string) error {
	timer := prometheus.NewTimer(observability.EnrichmentDuration().WithLabelValues("scored"))
	defer timer.ObserveDuration()

	rec, err := s.repo.GetByResponseID(ctx, responseID)
	if err != nil {
		return fmt.Errorf("load scored submission %s: %w", responseID, err)
	}

	log := s.logger.With().Str("response_id", responseID).Str("quiz_id", rec.QuizID).Logger()

	if err := s.setStatus(ctx, &rec, models.ScoredStatusFetching, ""); err != nil {
		return err
	}

	results, err := s.fetchQuestionResults(ctx, &rec, log)
	if err != nil {
		return s.fail(ctx, &rec, log, "topic detail unavailable", err)
	}

	rec.TopicBreakdown = AggregateTopics(results)
	// Persist the breakdown before feedback generation so a later engine failure
	// still leaves the topic data queryable.
	if err := s.repo.Update(ctx, &rec); err != nil {
		return fmt.Errorf("persist topic breakdown %s: %w", responseID, err)
	}

	if err := s.setStatus(ctx, &rec, models.ScoredStatusGenerating, ""); err != nil {
		return err
	}

	result, err := s.generateFeedback(ctx, &rec, log)
	if err != nil {
		return s.fail(ctx, &rec, log, "feedback generation failed", err)
	}

	rec.AIFeedback = mergeFeedback(result)
	if model, ok := result.Meta["model"].(string); ok {
		rec.FeedbackModel = model
	}
	evaluated := s.now()
	rec.EvaluatedAt = &evaluated

	if err := s.setStatus(ctx, &rec, models.ScoredStatusDone, "subject feedback generated"); err != nil {
		return err
	}

	log.Info().Int("topics", len(rec.TopicBreakdown)).Msg("scored enrichment complete")
	return nil
}

// Retry resets an errored record back to queued and reruns the pipeline from the
// start. A record that already finished cleanly is left alone.
func (s *scoredEnrichmentService) Retry(ctx context.Context, responseID string) error {
	rec, err := s.repo.GetByResponseID(ctx, responseID)
	if err != nil {
		return fmt.Errorf("load scored submission %s: %w", responseID, err)
	}

	if rec.IsEnriched() {
		return nil
	}

	rec.EnrichmentStatus = models.ScoredStatusQueued
	rec.EnrichmentMessage = ""
	rec.EnrichmentError = ""
	if err := s.repo.Update(ctx, &rec); err != nil {
		return fmt.Errorf("reset scored submission %s: %w", responseID, err)
	}

	return s.Enrich(ctx, responseID)
}

func (s *scoredEnrichmentService) fetchQuestionResults(ctx context.Context, rec *models.ScoredSubmission, log zerolog.Logger) ([]quizapi.QuestionResult, error) {
	var lastErr error

	for attempt := 1; attempt <= topicFetchAttempts; attempt++ {
		results, err := s.quizzes.QuestionResults(ctx, rec.QuizID, rec.ResponseID)
		switch {
		case err != nil:
			lastErr = err
		case len(results) == 0:
			// The platform finalises scoring shortly after the completion event;
			// an empty list means we raced it.
			lastErr = fmt.Errorf("question results not finalised yet")
		default:
			return results, nil
		}

		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("question results fetch failed")

		if attempt < topicFetchAttempts {
			if err := s.sleep(ctx, topicFetchDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", topicFetchAttempts, lastErr)
}

func (s *scoredEnrichmentService) generateFeedback(ctx context.Context, rec *models.ScoredSubmission, log zerolog.Logger) (engine.SubjectFeedbackResult, error) {
	doc := map[string]interface{}{
		"quiz_name": rec.QuizName,
		"score": map[string]interface{}{
			"points":     rec.Points,
			"available":  rec.Available,
			"percentage": rec.Percentage,
			"grade":      rec.Grade,
			"pass":       rec.Pass,
		},
		"topicBreakdown": map[string]interface{}(rec.TopicBreakdown),
	}

	var lastErr error
	for attempt := 1; attempt <= feedbackAttempts; attempt++ {
		result, err := s.engine.GenerateSubjectFeedback(ctx, engine.SubjectFeedbackRequest{Doc: doc})
		switch {
		case err != nil:
			lastErr = err
		case !result.Success:
			lastErr = fmt.Errorf("engine reported failure: %s", result.Error)
		default:
			return result, nil
		}

		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("subject feedback generation failed")

		if attempt < feedbackAttempts {
			if err := s.sleep(ctx, feedbackDelay); err != nil {
				return engine.SubjectFeedbackResult{}, err
			}
		}
	}

	return engine.SubjectFeedbackResult{}, fmt.Errorf("after %d attempts: %w", feedbackAttempts, lastErr)
}

func (s *scoredEnrichmentService) setStatus(ctx context.Context, rec *models.ScoredSubmission, next models.ScoredStatus, message string) error {
	if rec.EnrichmentStatus != next && !rec.EnrichmentStatus.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s for %s", rec.EnrichmentStatus, next, rec.ResponseID)
	}

	rec.EnrichmentStatus = next
	if message != "" {
		rec.EnrichmentMessage = message
	}
	return s.repo.Update(ctx, rec)
}

func (s *scoredEnrichmentService) fail(ctx context.Context, rec *models.ScoredSubmission, log zerolog.Logger, message string, cause error) error {
	log.Error().Err(cause).Msg(message)

	rec.EnrichmentStatus = models.ScoredStatusError
	rec.EnrichmentMessage = message
	rec.EnrichmentError = cause.Error()
	if err := s.repo.Update(ctx, rec); err != nil {
		return fmt.Errorf("persist error state %s: %w", rec.ResponseID, err)
	}
	return fmt.Errorf("%s: %w", message, cause)
}

// AggregateTopics folds per-question results into a per-topic breakdown of
// scored and total available points. Questions without a category fall under
// "General".
func AggregateTopics(results []quizapi.QuestionResult) map[string]interface{} {
	type bucket struct {
		scored float64
		total  float64
	}

	buckets := make(map[string]*bucket)
	for _, r := range results {
		category := r.Category
		if category == "" {
			category = "General"
		}
		b, ok := buckets[category]
		if !ok {
			b = &bucket{}
			buckets[category] = b
		}
		b.scored += r.Scored
		b.total += r.Available
	}

	breakdown := make(map[string]interface{}, len(buckets))
	for category, b := range buckets {
		breakdown[category] = map[string]interface{}{
			"scored": b.scored,
			"total":  b.total,
		}
	}
	return breakdown
}

func mergeFeedback(result engine.SubjectFeedbackResult) map[string]interface{} {
	feedback := make(map[string]interface{}, len(result.AIFeedback)+2)
	for k, v := range result.AIFeedback {
		feedback[k] = v
	}
	if len(result.PerformanceAnalysis) > 0 {
		feedback["performance_analysis"] = result.PerformanceAnalysis
	}
	if len(result.Meta) > 0 {
		feedback["meta"] = result.Meta
	}
	return feedback
}

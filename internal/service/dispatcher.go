package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/edassess/naplan-api/internal/dto"
	"github.com/edassess/naplan-api/internal/idempotency"
	"github.com/edassess/naplan-api/internal/models"
	"github.com/edassess/naplan-api/internal/normalizer"
	"github.com/edassess/naplan-api/internal/observability"
	"github.com/edassess/naplan-api/internal/repository"
)

// Event types the dispatcher routes. Anything else is logged and dropped.
const (
	EventSubmissionCompleted = "submission.completed"
	EventSubmissionDeleted   = "submission.deleted"
	EventSubjectCreated      = "subject.created"
	EventSubjectUpdated      = "subject.updated"
	EventSubjectDeleted      = "subject.deleted"
)

const defaultQueueSize = 256

// Dispatcher is the entry point for webhook events: it deduplicates, acknowledges
// immediately, and processes asynchronously on a single worker goroutine so the
// sender never times out waiting on enrichment.
type Dispatcher struct {
	gate        idempotency.Store
	normalizer  *normalizer.Normalizer
	scoredRepo  repository.ScoredSubmissionRepository
	writtenRepo repository.WrittenSubmissionRepository
	scored      ScoredEnrichmentService
	writing     WritingEnrichmentService
	validate    *validator.Validate
	logger      zerolog.Logger
	queue       chan dto.EventEnvelope
}

// NewDispatcher wires the dispatcher. queueSize <= 0 selects the default.
func NewDispatcher(
	gate idempotency.Store,
	norm *normalizer.Normalizer,
	scoredRepo repository.ScoredSubmissionRepository,
	writtenRepo repository.WrittenSubmissionRepository,
	scored ScoredEnrichmentService,
	writing WritingEnrichmentService,
	logger zerolog.Logger,
	queueSize int,
) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		gate:        gate,
		normalizer:  norm,
		scoredRepo:  scoredRepo,
		writtenRepo: writtenRepo,
		scored:      scored,
		writing:     writing,
		validate:    validator.New(),
		logger:      logger.With().Str("component", "dispatcher").Logger(),
		queue:       make(chan dto.EventEnvelope, queueSize),
	}
}

// Start runs the worker loop until ctx is cancelled. Events are processed one at
// a time so record writes never race across the two tables.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Int("queue_size", cap(d.queue)).Msg("dispatcher worker started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("dispatcher worker stopped")
			return
		case env := <-d.queue:
			d.process(ctx, env)
		}
	}
}

// Dispatch validates the envelope, applies the idempotency gate and enqueues the
// event. It returns the acknowledgment to send; the error return is a validation
// failure and maps to a 400.
func (d *Dispatcher) Dispatch(ctx context.Context, env dto.EventEnvelope) (dto.WebhookAck, error) {
	if err := d.validate.Struct(env); err != nil {
		return dto.WebhookAck{}, fmt.Errorf("invalid event envelope: %w", err)
	}

	seen, err := d.gate.Seen(ctx, env.EventID)
	if err != nil {
		// A broken gate must not drop events; duplicates are cheaper than losses.
		d.logger.Warn().Err(err).Str("event_id", env.EventID).Msg("idempotency gate unavailable")
		seen = false
	}
	if seen {
		observability.EventsDuplicate().WithLabelValues(env.EventType).Inc()
		d.logger.Info().Str("event_id", env.EventID).Str("event_type", env.EventType).Msg("duplicate event suppressed")
		return dto.WebhookAck{Success: true, Duplicate: true}, nil
	}

	observability.EventsReceived().WithLabelValues(env.EventType).Inc()

	select {
	case d.queue <- env:
	default:
		// Queue full: process out of band rather than block the ack or drop the event.
		d.logger.Warn().Str("event_id", env.EventID).Msg("dispatch queue full, processing out of band")
		go d.process(context.WithoutCancel(ctx), env)
	}

	return dto.WebhookAck{Success: true, Received: true}, nil
}

func (d *Dispatcher) process(ctx context.Context, env dto.EventEnvelope) {
	log := d.logger.With().Str("event_id", env.EventID).Str("event_type", env.EventType).Logger()

	var err error
	switch env.EventType {
	case EventSubmissionCompleted:
		err = d.handleSubmissionCompleted(ctx, env)
	case EventSubmissionDeleted:
		err = d.handleSubmissionDeleted(ctx, env)
	case EventSubjectCreated, EventSubjectUpdated:
		err = d.handleSubjectUpsert(ctx, env)
	case EventSubjectDeleted:
		err = d.handleSubjectDeleted(ctx, env)
	default:
		log.Warn().Msg("unknown event type dropped")
		return
	}

	if err != nil {
		observability.EventsErrors().WithLabelValues(env.EventType).Inc()
		log.Error().Err(err).Msg("event processing failed")
		return
	}

	observability.EventsProcessed().WithLabelValues(env.EventType).Inc()
}

// handleSubmissionCompleted classifies the submission and fast-saves the record
// before enrichment, so a crash mid-pipeline never loses the event. The sibling
// table is purged in the same step to hold the one-record-per-response invariant
// when a quiz is renamed across deliveries.
func (d *Dispatcher) handleSubmissionCompleted(ctx context.Context, env dto.EventEnvelope) error {
	sub, err := d.normalizer.Normalize(ctx, env.Data)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}

	if sub.Writing {
		rec := models.WrittenSubmission{
			EventID:          env.EventID,
			ResponseID:       sub.ResponseID,
			QuizID:           sub.QuizID,
			QuizName:         sub.QuizName,
			SubjectID:        sub.SubjectID,
			SubjectUsername:  sub.SubjectUsername,
			SubjectName:      sub.SubjectName,
			SubjectEmail:     sub.SubjectEmail,
			Status:           models.WrittenRecordReceived,
			EnrichmentStatus: models.WritingStatusQueued,
		}
		if err := d.writtenRepo.UpsertByResponseID(ctx, &rec); err != nil {
			return fmt.Errorf("save written submission: %w", err)
		}
		if removed, err := d.scoredRepo.DeleteByResponseID(ctx, sub.ResponseID); err != nil {
			return fmt.Errorf("purge stale scored record: %w", err)
		} else if removed {
			d.logger.Info().Str("response_id", sub.ResponseID).Msg("reclassified submission, scored record purged")
		}

		return d.writing.Enrich(ctx, sub.ResponseID)
	}

	rec := models.ScoredSubmission{
		EventID:          env.EventID,
		ResponseID:       sub.ResponseID,
		QuizID:           sub.QuizID,
		QuizName:         sub.QuizName,
		Points:           sub.Points,
		Available:        sub.Available,
		Percentage:       sub.Percentage,
		Grade:            sub.Grade,
		Pass:             sub.Pass,
		SubjectID:        sub.SubjectID,
		SubjectUsername:  sub.SubjectUsername,
		SubjectName:      sub.SubjectName,
		SubjectEmail:     sub.SubjectEmail,
		EnrichmentStatus: models.ScoredStatusQueued,
	}
	if err := d.scoredRepo.UpsertByResponseID(ctx, &rec); err != nil {
		return fmt.Errorf("save scored submission: %w", err)
	}
	if removed, err := d.writtenRepo.DeleteByResponseID(ctx, sub.ResponseID); err != nil {
		return fmt.Errorf("purge stale written record: %w", err)
	} else if removed {
		d.logger.Info().Str("response_id", sub.ResponseID).Msg("reclassified submission, written record purged")
	}

	return d.scored.Enrich(ctx, sub.ResponseID)
}

// handleSubmissionDeleted removes the record from whichever table holds it.
// Deleting an unknown response is a no-op, not an error.
func (d *Dispatcher) handleSubmissionDeleted(ctx context.Context, env dto.EventEnvelope) error {
	sub, err := d.normalizer.Normalize(ctx, env.Data)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}

	scoredRemoved, err := d.scoredRepo.DeleteByResponseID(ctx, sub.ResponseID)
	if err != nil {
		return fmt.Errorf("delete scored submission: %w", err)
	}
	writtenRemoved, err := d.writtenRepo.DeleteByResponseID(ctx, sub.ResponseID)
	if err != nil {
		return fmt.Errorf("delete written submission: %w", err)
	}

	d.logger.Info().
		Str("response_id", sub.ResponseID).
		Bool("scored_removed", scoredRemoved).
		Bool("written_removed", writtenRemoved).
		Msg("submission deletion processed")
	return nil
}

// handleSubjectUpsert refreshes the denormalised subject identity on every
// record owned by the subject.
func (d *Dispatcher) handleSubjectUpsert(ctx context.Context, env dto.EventEnvelope) error {
	identity, err := subjectIdentityFromPayload(env.Data)
	if err != nil {
		return err
	}

	if err := d.scoredRepo.UpdateSubjectIdentity(ctx, identity.ID, identity); err != nil {
		return fmt.Errorf("update scored subject identity: %w", err)
	}
	if err := d.writtenRepo.UpdateSubjectIdentity(ctx, identity.ID, identity); err != nil {
		return fmt.Errorf("update written subject identity: %w", err)
	}
	return nil
}

// handleSubjectDeleted scrubs the subject identity from owned records while
// keeping the assessment data itself.
func (d *Dispatcher) handleSubjectDeleted(ctx context.Context, env dto.EventEnvelope) error {
	identity, err := subjectIdentityFromPayload(env.Data)
	if err != nil {
		return err
	}

	if err := d.scoredRepo.ClearSubjectIdentity(ctx, identity.ID); err != nil {
		return fmt.Errorf("clear scored subject identity: %w", err)
	}
	if err := d.writtenRepo.ClearSubjectIdentity(ctx, identity.ID); err != nil {
		return fmt.Errorf("clear written subject identity: %w", err)
	}
	return nil
}

func subjectIdentityFromPayload(data map[string]interface{}) (models.SubjectIdentity, error) {
	identity := models.SubjectIdentity{
		ID:       stringField(data, "id", "user_id", "subject_id"),
		Username: stringField(data, "username"),
		Name:     stringField(data, "name"),
		Email:    stringField(data, "email"),
	}
	if identity.ID == "" {
		return models.SubjectIdentity{}, fmt.Errorf("subject event payload is missing an id")
	}
	return identity, nil
}

func stringField(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

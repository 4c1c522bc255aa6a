package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScoredStatus tracks the enrichment lifecycle of a scored submission.
type ScoredStatus string

const (
	ScoredStatusQueued     ScoredStatus = "queued"
	ScoredStatusFetching   ScoredStatus = "fetching"
	ScoredStatusGenerating ScoredStatus = "generating"
	ScoredStatusDone       ScoredStatus = "done"
	ScoredStatusError      ScoredStatus = "error"
)

var scoredTransitions = map[ScoredStatus][]ScoredStatus{
	ScoredStatusQueued:     {ScoredStatusFetching, ScoredStatusError},
	ScoredStatusFetching:   {ScoredStatusGenerating, ScoredStatusError},
	ScoredStatusGenerating: {ScoredStatusDone, ScoredStatusError},
	ScoredStatusDone:       {},
	ScoredStatusError:      {ScoredStatusFetching},
}

// CanTransitionTo reports whether moving to the next status is a legal lifecycle step.
// An errored record may re-enter fetching via the manual retry entry point.
func (s ScoredStatus) CanTransitionTo(next ScoredStatus) bool {
	for _, allowed := range scoredTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScoredSubmission is the canonical record for one completed scored quiz attempt,
// keyed by the external response identifier. It is created synchronously on event
// receipt and mutated only by the enrichment pipeline afterwards.
type ScoredSubmission struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EventID    string `gorm:"size:128" json:"event_id"`
	ResponseID string `gorm:"size:128;not null;uniqueIndex" json:"response_id"`
	QuizID     string `gorm:"size:128" json:"quiz_id"`
	QuizName   string `gorm:"size:256" json:"quiz_name"`

	Points     float64 `json:"points"`
	Available  float64 `json:"available"`
	Percentage float64 `json:"percentage"`
	Grade      string  `gorm:"size:16" json:"grade"`
	Pass       bool    `json:"pass"`

	// Subject identity is best-effort; the upstream payload may omit it entirely.
	SubjectID       string `gorm:"size:128;index" json:"subject_id"`
	SubjectUsername string `gorm:"size:128" json:"subject_username"`
	SubjectName     string `gorm:"size:256" json:"subject_name"`
	SubjectEmail    string `gorm:"size:256" json:"subject_email"`

	TopicBreakdown datatypes.JSONMap `json:"topic_breakdown"`
	AIFeedback     datatypes.JSONMap `json:"ai_feedback"`
	FeedbackModel  string            `gorm:"size:64" json:"feedback_model"`

	EnrichmentStatus  ScoredStatus `gorm:"size:16;not null;default:queued" json:"enrichment_status"`
	EnrichmentMessage string       `gorm:"size:512" json:"enrichment_message"`
	EnrichmentError   string       `gorm:"type:text" json:"enrichment_error"`
	EvaluatedAt       *time.Time   `json:"evaluated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEnriched reports whether the pipeline has run to completion.
func (s ScoredSubmission) IsEnriched() bool {
	return s.EnrichmentStatus == ScoredStatusDone && s.EnrichmentError == ""
}

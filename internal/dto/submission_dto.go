package dto

import (
	"time"

	"gorm.io/datatypes"

	"github.com/edassess/naplan-api/internal/models"
)

// ScoredSubmissionResponse is the poller-facing view of a scored submission.
type ScoredSubmissionResponse struct {
	ResponseID     string            `json:"response_id"`
	QuizID         string            `json:"quiz_id"`
	QuizName       string            `json:"quiz_name"`
	Points         float64           `json:"points"`
	Available      float64           `json:"available"`
	Percentage     float64           `json:"percentage"`
	Grade          string            `json:"grade"`
	Pass           bool              `json:"pass"`
	TopicBreakdown datatypes.JSONMap `json:"topic_breakdown"`
	AIFeedback     datatypes.JSONMap `json:"ai_feedback,omitempty"`
	Enrichment     EnrichmentState   `json:"enrichment"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// WrittenSubmissionResponse is the poller-facing view of a written submission.
type WrittenSubmissionResponse struct {
	ResponseID string            `json:"response_id"`
	QuizID     string            `json:"quiz_id"`
	QuizName   string            `json:"quiz_name"`
	Status     string            `json:"status"`
	YearLevel  int               `json:"year_level,omitempty"`
	WordCount  int               `json:"word_count"`
	Answers    datatypes.JSON    `json:"answers,omitempty"`
	AIFeedback datatypes.JSONMap `json:"ai_feedback,omitempty"`
	Enrichment EnrichmentState   `json:"enrichment"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// EnrichmentState is the lifecycle block pollers watch: done plus an empty error
// means success, error carries the human-readable diagnostic.
type EnrichmentState struct {
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`
}

// NewScoredSubmissionResponse maps the model onto its response shape.
func NewScoredSubmissionResponse(s models.ScoredSubmission) ScoredSubmissionResponse {
	return ScoredSubmissionResponse{
		ResponseID:     s.ResponseID,
		QuizID:         s.QuizID,
		QuizName:       s.QuizName,
		Points:         s.Points,
		Available:      s.Available,
		Percentage:     s.Percentage,
		Grade:          s.Grade,
		Pass:           s.Pass,
		TopicBreakdown: s.TopicBreakdown,
		AIFeedback:     s.AIFeedback,
		Enrichment: EnrichmentState{
			Status:      string(s.EnrichmentStatus),
			Message:     s.EnrichmentMessage,
			Error:       s.EnrichmentError,
			EvaluatedAt: s.EvaluatedAt,
		},
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// NewScoredSubmissionResponseSlice maps a list of models.
func NewScoredSubmissionResponseSlice(items []models.ScoredSubmission) []ScoredSubmissionResponse {
	out := make([]ScoredSubmissionResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewScoredSubmissionResponse(item))
	}
	return out
}

// NewWrittenSubmissionResponse maps the model onto its response shape.
func NewWrittenSubmissionResponse(s models.WrittenSubmission) WrittenSubmissionResponse {
	return WrittenSubmissionResponse{
		ResponseID: s.ResponseID,
		QuizID:     s.QuizID,
		QuizName:   s.QuizName,
		Status:     s.Status,
		YearLevel:  s.YearLevel,
		WordCount:  s.WordCount,
		Answers:    s.Answers,
		AIFeedback: s.AIFeedback,
		Enrichment: EnrichmentState{
			Status:      string(s.EnrichmentStatus),
			Message:     s.EnrichmentMessage,
			Error:       s.EnrichmentError,
			EvaluatedAt: s.EvaluatedAt,
		},
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// NewWrittenSubmissionResponseSlice maps a list of models.
func NewWrittenSubmissionResponseSlice(items []models.WrittenSubmission) []WrittenSubmissionResponse {
	out := make([]WrittenSubmissionResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewWrittenSubmissionResponse(item))
	}
	return out
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// WritingStatus tracks the enrichment lifecycle of a written submission. The
// extra verifying step runs the deterministic hard-stop heuristics before any
// engine invocation.
type WritingStatus string

const (
	WritingStatusQueued     WritingStatus = "queued"
	WritingStatusFetching   WritingStatus = "fetching"
	WritingStatusVerifying  WritingStatus = "verifying"
	WritingStatusGenerating WritingStatus = "generating"
	WritingStatusDone       WritingStatus = "done"
	WritingStatusError      WritingStatus = "error"
)

var writingTransitions = map[WritingStatus][]WritingStatus{
	WritingStatusQueued:     {WritingStatusFetching, WritingStatusError},
	WritingStatusFetching:   {WritingStatusVerifying, WritingStatusDone, WritingStatusError},
	WritingStatusVerifying:  {WritingStatusGenerating, WritingStatusDone, WritingStatusError},
	WritingStatusGenerating: {WritingStatusDone, WritingStatusError},
	WritingStatusDone:       {},
	WritingStatusError:      {WritingStatusFetching},
}

// CanTransitionTo reports whether moving to the next status is a legal lifecycle step.
func (s WritingStatus) CanTransitionTo(next WritingStatus) bool {
	for _, allowed := range writingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

const (
	// WrittenRecordReceived marks a normally processed written submission.
	WrittenRecordReceived = "received"
	// WrittenRecordIgnored marks a submission whose upstream response was not in a
	// submitted state; enrichment completes with an empty result.
	WrittenRecordIgnored = "ignored"
)

// WrittenSubmission is the canonical record for one free-text quiz attempt. It is
// created as an empty placeholder on event receipt and filled in by the writing
// enrichment pipeline.
type WrittenSubmission struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EventID    string `gorm:"size:128" json:"event_id"`
	ResponseID string `gorm:"size:128;not null;uniqueIndex" json:"response_id"`
	QuizID     string `gorm:"size:128" json:"quiz_id"`
	QuizName   string `gorm:"size:256" json:"quiz_name"`

	SubjectID       string `gorm:"size:128;index" json:"subject_id"`
	SubjectUsername string `gorm:"size:128" json:"subject_username"`
	SubjectName     string `gorm:"size:256" json:"subject_name"`
	SubjectEmail    string `gorm:"size:256" json:"subject_email"`

	// Status distinguishes normally received submissions from ignored ones.
	Status string `gorm:"size:16;not null;default:received" json:"status"`

	// Answers holds the ordered (question, answer) pairs fetched from the quiz API.
	Answers    datatypes.JSON    `json:"answers"`
	YearLevel  int               `json:"year_level"`
	WordCount  int               `json:"word_count"`
	AIFeedback datatypes.JSONMap `json:"ai_feedback"`

	EnrichmentStatus  WritingStatus `gorm:"size:16;not null;default:queued" json:"enrichment_status"`
	EnrichmentMessage string        `gorm:"size:512" json:"enrichment_message"`
	EnrichmentError   string        `gorm:"type:text" json:"enrichment_error"`
	EvaluatedAt       *time.Time    `json:"evaluated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuestionAnswer is one ordered (question, answer-text) pair from a written response.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Package engine invokes the out-of-process AI scoring engine. Two tasks exist:
// subject feedback for scored quizzes and writing evaluation for free-text
// quizzes. The default implementation spawns the engine as a subprocess speaking
// JSON over stdin/stdout; an in-process OpenAI implementation is available behind
// the same interface.
package engine

import "context"

// SubjectFeedbackRequest carries the minimal scoring document the feedback
// generator needs: overall score plus the per-topic breakdown.
type SubjectFeedbackRequest struct {
	Doc map[string]interface{} `json:"doc"`
}

// SubjectFeedbackResult is the structured feedback returned by the generator.
type SubjectFeedbackResult struct {
	Success             bool                   `json:"success"`
	Error               string                 `json:"error,omitempty"`
	PerformanceAnalysis map[string]interface{} `json:"performance_analysis,omitempty"`
	AIFeedback          map[string]interface{} `json:"ai_feedback,omitempty"`
	Meta                map[string]interface{} `json:"ai_feedback_meta,omitempty"`
}

// WritingRequest carries one free-text answer for evaluation.
type WritingRequest struct {
	StudentYear    int    `json:"student_year"`
	WritingPrompt  string `json:"writing_prompt"`
	StudentWriting string `json:"student_writing"`
	TextType       string `json:"text_type,omitempty"`
}

// WritingResult is the structured evaluation returned by the writing evaluator.
type WritingResult struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Result  map[string]interface{} `json:"result,omitempty"`
}

// Engine abstracts the scoring engine so the enrichment pipelines never depend on
// how it is hosted.
type Engine interface {
	GenerateSubjectFeedback(ctx context.Context, req SubjectFeedbackRequest) (SubjectFeedbackResult, error)
	EvaluateWriting(ctx context.Context, req WritingRequest) (WritingResult, error)
}

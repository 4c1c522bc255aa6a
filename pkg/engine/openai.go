package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edassess/naplan-api/internal/textutil"
)

// OpenAIConfig defines configuration for the in-process engine.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIEngine hosts both scoring tasks in-process against the OpenAI chat
// completion API, as an alternative to spawning the engine subprocess.
type OpenAIEngine struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEngine builds the in-process engine.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey)),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/edassess/naplan-api/pkg/engine/openai"),
		logger: logger.With().Str("component", "openai_engine").Logger(),
	}, nil
}

type topicPerformance struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Scored     float64 `json:"scored"`
	Total      float64 `json:"total"`
	Missed     float64 `json:"missed"`
}

// GenerateSubjectFeedback analyses the topic breakdown locally and asks the model
// for coaching feedback over the computed performance summary.
func (e *OpenAIEngine) GenerateSubjectFeedback(parent context.Context, req SubjectFeedbackRequest) (SubjectFeedbackResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.subject_feedback", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
	))
	defer span.End()

	quizName, _ := req.Doc["quiz_name"].(string)
	topics := topicsFromDoc(req.Doc)
	if len(topics) == 0 {
		return SubjectFeedbackResult{Success: false, Error: "missing or empty topic breakdown"}, nil
	}

	subject := textutil.InferSubject(quizName)
	analysis := analysePerformance(topics, req.Doc)
	prompt := buildSubjectFeedbackPrompt(quizName, subject, analysis)

	content, err := e.complete(ctx, taskSubjectFeedback, subjectFeedbackSystemPrompt, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SubjectFeedbackResult{}, err
	}

	var feedback map[string]interface{}
	if err := decodeEngineOutput([]byte(content), &feedback); err != nil {
		span.RecordError(err)
		return SubjectFeedbackResult{}, err
	}

	coerceSubjectFeedback(feedback, analysis)

	return SubjectFeedbackResult{
		Success:             true,
		PerformanceAnalysis: analysis,
		AIFeedback:          feedback,
		Meta: map[string]interface{}{
			"model":        e.cfg.Model,
			"generated_at": time.Now().UTC().Format(time.RFC3339),
			"quiz_name":    quizName,
			"subject":      subject,
			"status":       "done",
		},
	}, nil
}

// EvaluateWriting asks the model to assess the answer against year-level
// expectations, returning the structured evaluation document.
func (e *OpenAIEngine) EvaluateWriting(parent context.Context, req WritingRequest) (WritingResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.writing_eval", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.Int("student_year", req.StudentYear),
	))
	defer span.End()

	if textutil.IsBlank(textutil.Sanitize(req.StudentWriting, 0)) {
		return WritingResult{Success: false, Error: "student writing is empty"}, nil
	}

	prompt := buildWritingPrompt(req)

	content, err := e.complete(ctx, taskWritingEval, writingEvalSystemPrompt, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return WritingResult{}, err
	}

	var result map[string]interface{}
	if err := decodeEngineOutput([]byte(content), &result); err != nil {
		span.RecordError(err)
		return WritingResult{}, err
	}

	return WritingResult{Success: true, Result: result}, nil
}

func (e *OpenAIEngine) complete(ctx context.Context, task, system, user string) (string, error) {
	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	engineDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	if err != nil {
		engineFailures.WithLabelValues(task).Inc()
		return "", fmt.Errorf("openai %s: %w", task, err)
	}

	if len(resp.Choices) == 0 {
		engineFailures.WithLabelValues(task).Inc()
		return "", fmt.Errorf("openai %s: no choices returned", task)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const subjectFeedbackSystemPrompt = "You are an AI coach for NAPLAN assessments. Respond with a JSON object containing " +
	"overall_feedback (two short sentences), coach (three {insight,reason,action} items), strengths, weaknesses, " +
	"growth_areas, study_tips (string arrays, max three items each), cta, and encouragement. Use real topic names " +
	"and numbers from the performance data. The weakest topic must lead the weaknesses list."

const writingEvalSystemPrompt = "You are an Australian NAPLAN writing assessor. Respond with a JSON object containing " +
	"meta {year_level, text_type, valid_response}, overall {total_score, max_score, band, one_line_summary, summary, " +
	"strengths, weaknesses}, review_sections, and criteria. Use a neutral assessor voice, Australian English, and " +
	"never invent details absent from the prompt or response."

func buildSubjectFeedbackPrompt(quizName, subject string, analysis map[string]interface{}) string {
	data, _ := json.Marshal(analysis)

	builder := strings.Builder{}
	builder.WriteString("# Assessment\n")
	fmt.Fprintf(&builder, "%s (for a %s assessment)", quizName, subject)
	builder.WriteString("\n\n## Performance data\n")
	builder.Write(data)
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// buildWritingPrompt sanitises the prompt and answer text before they reach the
// model; answers arrive from the quiz platform with curly quotes, bullets and
// stray non-ASCII runs that throw off the assessor output.
func buildWritingPrompt(req WritingRequest) string {
	builder := strings.Builder{}
	fmt.Fprintf(&builder, "YEAR: %d\n", req.StudentYear)
	if req.TextType != "" {
		fmt.Fprintf(&builder, "TEXT TYPE: %s\n", req.TextType)
	}
	builder.WriteString("\nPROMPT:\n")
	builder.WriteString(textutil.Sanitize(req.WritingPrompt, 0))
	builder.WriteString("\n\nSTUDENT RESPONSE:\n")
	builder.WriteString(textutil.Sanitize(req.StudentWriting, 0))
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// topicsFromDoc extracts the topic breakdown from the scoring document, accepting
// the {scored,total} shape the pipeline persists.
func topicsFromDoc(doc map[string]interface{}) []topicPerformance {
	raw, ok := doc["topicBreakdown"].(map[string]interface{})
	if !ok {
		return nil
	}

	topics := make([]topicPerformance, 0, len(raw))
	for name, value := range raw {
		entry, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		scored := toFloat(entry["scored"])
		total := toFloat(entry["total"])
		if total <= 0 {
			continue
		}
		topics = append(topics, topicPerformance{
			Name:       name,
			Scored:     scored,
			Total:      total,
			Missed:     total - scored,
			Percentage: roundOne(scored / total * 100),
		})
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].Percentage > topics[j].Percentage })
	return topics
}

func analysePerformance(topics []topicPerformance, doc map[string]interface{}) map[string]interface{} {
	var totalScored, totalAvailable float64
	high, low := 0, 0
	for _, t := range topics {
		totalScored += t.Scored
		totalAvailable += t.Total
		if t.Percentage >= 80 {
			high++
		} else if t.Percentage <= 30 {
			low++
		}
	}

	overall := 0.0
	if totalAvailable > 0 {
		overall = roundOne(totalScored / totalAvailable * 100)
	}
	if score, ok := doc["score"].(map[string]interface{}); ok {
		if pct := toFloat(score["percentage"]); pct > 0 {
			overall = roundOne(pct)
		}
	}

	top := topics
	if len(top) > 3 {
		top = top[:3]
	}
	weak := make([]topicPerformance, 0, 3)
	for i := len(topics) - 1; i >= 0 && len(weak) < 3; i-- {
		weak = append(weak, topics[i])
	}

	return map[string]interface{}{
		"overall_percentage":     overall,
		"accuracy":               overall,
		"high_performance_count": high,
		"low_performance_count":  low,
		"top_topics":             top,
		"weak_topics":            weak,
	}
}

// coerceSubjectFeedback enforces the invariants the pipeline relies on: three
// weaknesses with the weakest topic first, regardless of what the model returned.
func coerceSubjectFeedback(feedback map[string]interface{}, analysis map[string]interface{}) {
	weak, _ := analysis["weak_topics"].([]topicPerformance)

	weaknesses := stringSlice(feedback["weaknesses"])
	if len(weak) > 0 {
		weakest := weak[0]
		if len(weaknesses) == 0 || !strings.Contains(strings.ToLower(weaknesses[0]), strings.ToLower(weakest.Name)) {
			weaknesses = append([]string{fmt.Sprintf("%s: %.1f%% accuracy", weakest.Name, weakest.Percentage)}, weaknesses...)
		}
	}
	for _, t := range weak {
		if len(weaknesses) >= 3 {
			break
		}
		entry := fmt.Sprintf("%s: %.1f%% accuracy", t.Name, t.Percentage)
		if !containsFold(weaknesses, t.Name) {
			weaknesses = append(weaknesses, entry)
		}
	}
	for len(weaknesses) < 3 {
		weaknesses = append(weaknesses, "Needs more practice consistency")
	}
	feedback["weaknesses"] = weaknesses[:3]

	if strings.TrimSpace(stringValue(feedback["cta"])) == "" {
		feedback["cta"] = "Pick one weak topic and practice it today."
	}
	if strings.TrimSpace(stringValue(feedback["overall_feedback"])) == "" {
		feedback["overall_feedback"] = "You made good progress and can improve with practice. Keep going!"
	}
}

func stringSlice(value interface{}) []string {
	raw, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func stringValue(value interface{}) string {
	s, _ := value.(string)
	return s
}

func containsFold(items []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, item := range items {
		if strings.Contains(strings.ToLower(item), needle) {
			return true
		}
	}
	return false
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		var f float64
		_, _ = fmt.Sscanf(strings.TrimSpace(v), "%g", &f)
		return f
	default:
		return 0
	}
}

func roundOne(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

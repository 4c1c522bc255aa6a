// Package normalizer maps the heterogeneous webhook payload shapes emitted by
// the quiz platform onto the canonical submission schema. Extraction is
// declarative: each canonical field probes an ordered list of candidate paths
// and the first non-empty value wins.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edassess/naplan-api/pkg/quizapi"
)

// ErrMissingResponseID is the hard validation failure: without the business key
// the event can never be processed, so it is dropped rather than retried.
var ErrMissingResponseID = errors.New("payload is missing a response identifier")

// QuizResolver looks up quiz metadata when the payload omits the quiz name.
type QuizResolver interface {
	Quiz(ctx context.Context, quizID string) (quizapi.Quiz, error)
}

// Submission is the normalized view of a submission.completed payload.
type Submission struct {
	ResponseID string
	QuizID     string
	QuizName   string

	SubjectID       string
	SubjectUsername string
	SubjectName     string
	SubjectEmail    string

	Points     float64
	Available  float64
	Percentage float64
	Grade      string
	Pass       bool

	// Writing is true when the resolved quiz name classifies the submission
	// onto the free-text pipeline.
	Writing bool
}

type extractRule struct {
	field string
	paths []string
}

// Candidate spellings in priority order: snake_case first, then camelCase, then
// values nested under user/student/respondent containers.
var stringRules = []extractRule{
	{"response_id", []string{"response_id", "responseId", "response.id", "id"}},
	{"quiz_id", []string{"quiz_id", "quizId", "quiz.id"}},
	{"quiz_name", []string{"quiz_name", "quizName", "quiz.name", "quiz.title"}},
	{"subject_id", []string{"user.id", "student.id", "respondent.id", "user_id", "userId"}},
	{"subject_username", []string{"user.username", "student.username", "respondent.username", "username"}},
	{"subject_name", []string{"user.name", "student.name", "respondent.name", "name"}},
	{"subject_email", []string{"user.email", "student.email", "respondent.email", "email"}},
	{"grade", []string{"score.grade", "grade"}},
}

var numberRules = []extractRule{
	{"points", []string{"score.points", "score.scored", "points"}},
	{"available", []string{"score.available", "available"}},
	{"percentage", []string{"score.percentage", "percentage"}},
}

var passRule = extractRule{"pass", []string{"score.pass", "pass", "passed"}}

// Normalizer converts raw event payloads into canonical submissions.
type Normalizer struct {
	quizzes QuizResolver
	logger  zerolog.Logger
}

// New constructs a Normalizer. The resolver may be nil, in which case missing
// quiz names stay empty and the submission classifies as scored.
func New(quizzes QuizResolver, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		quizzes: quizzes,
		logger:  logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize extracts the canonical fields from the raw payload and classifies
// the submission. A missing response id is a validation failure.
func (n *Normalizer) Normalize(ctx context.Context, data map[string]interface{}) (Submission, error) {
	fields := make(map[string]string, len(stringRules))
	for _, rule := range stringRules {
		fields[rule.field] = firstString(data, rule.paths)
	}

	if fields["response_id"] == "" {
		return Submission{}, ErrMissingResponseID
	}

	sub := Submission{
		ResponseID:      fields["response_id"],
		QuizID:          fields["quiz_id"],
		QuizName:        fields["quiz_name"],
		SubjectID:       fields["subject_id"],
		SubjectUsername: fields["subject_username"],
		SubjectName:     fields["subject_name"],
		SubjectEmail:    fields["subject_email"],
		Grade:           fields["grade"],
	}

	numbers := make(map[string]float64, len(numberRules))
	for _, rule := range numberRules {
		numbers[rule.field] = firstNumber(data, rule.paths)
	}
	sub.Points = numbers["points"]
	sub.Available = numbers["available"]
	sub.Percentage = numbers["percentage"]
	sub.Pass = firstBool(data, passRule.paths)

	if sub.Percentage == 0 && sub.Available > 0 {
		sub.Percentage = sub.Points / sub.Available * 100
	}

	// The writing/non-writing split can only be decided once the quiz name is
	// known, so resolve it before classification.
	if sub.QuizName == "" && sub.QuizID != "" && n.quizzes != nil {
		quiz, err := n.quizzes.Quiz(ctx, sub.QuizID)
		if err != nil {
			n.logger.Warn().Err(err).Str("quiz_id", sub.QuizID).Msg("failed to resolve quiz name")
		} else {
			sub.QuizName = quiz.Name
		}
	}

	sub.Writing = IsWritingQuiz(sub.QuizName)

	return sub, nil
}

// IsWritingQuiz applies the single classification heuristic: a quiz is a writing
// quiz iff its name contains the case-insensitive substring "writing".
func IsWritingQuiz(quizName string) bool {
	return strings.Contains(strings.ToLower(quizName), "writing")
}

func firstString(data map[string]interface{}, paths []string) string {
	for _, path := range paths {
		if value, ok := lookup(data, path); ok {
			if s := stringify(value); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNumber(data map[string]interface{}, paths []string) float64 {
	for _, path := range paths {
		if value, ok := lookup(data, path); ok {
			if f, ok := numberify(value); ok {
				return f
			}
		}
	}
	return 0
}

func firstBool(data map[string]interface{}, paths []string) bool {
	for _, path := range paths {
		if value, ok := lookup(data, path); ok {
			switch v := value.(type) {
			case bool:
				return v
			case string:
				parsed, err := strconv.ParseBool(strings.TrimSpace(v))
				if err == nil {
					return parsed
				}
			}
		}
	}
	return false
}

func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	current := interface{}(data)

	for _, segment := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func numberify(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case map[string]interface{}:
		// Mongo extended JSON numerics sneak through some payloads.
		for _, key := range []string{"$numberDecimal", "$numberInt", "$numberLong"} {
			if s, ok := v[key].(string); ok {
				f, err := strconv.ParseFloat(s, 64)
				if err == nil {
					return f, true
				}
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// String implements fmt.Stringer for log output.
func (s Submission) String() string {
	kind := "scored"
	if s.Writing {
		kind = "writing"
	}
	return fmt.Sprintf("%s submission response_id=%s quiz=%q", kind, s.ResponseID, s.QuizName)
}

package normalizer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edassess/naplan-api/pkg/quizapi"
)

type stubResolver struct {
	quiz  quizapi.Quiz
	err   error
	calls int
}

func (s *stubResolver) Quiz(ctx context.Context, quizID string) (quizapi.Quiz, error) {
	s.calls++
	if s.err != nil {
		return quizapi.Quiz{}, s.err
	}
	return s.quiz, nil
}

func TestNormalizeSnakeCasePayload(t *testing.T) {
	n := New(nil, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"response_id": "r-1",
		"quiz_id":     "q-1",
		"quiz_name":   "Year 5 Numeracy",
		"score": map[string]interface{}{
			"points":     12.0,
			"available":  20.0,
			"percentage": 60.0,
			"grade":      "C",
			"pass":       true,
		},
		"user": map[string]interface{}{
			"id":    "u-9",
			"email": "kid@example.com",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "r-1", sub.ResponseID)
	require.Equal(t, "Year 5 Numeracy", sub.QuizName)
	require.InDelta(t, 60.0, sub.Percentage, 0.001)
	require.Equal(t, "C", sub.Grade)
	require.True(t, sub.Pass)
	require.Equal(t, "u-9", sub.SubjectID)
	require.False(t, sub.Writing)
}

func TestNormalizeCamelCaseAndNestedSpellings(t *testing.T) {
	n := New(nil, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"responseId": "r-2",
		"quizId":     "q-2",
		"quizName":   "Year 7 Writing Task",
		"respondent": map[string]interface{}{
			"name": "Alex",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "r-2", sub.ResponseID)
	require.Equal(t, "q-2", sub.QuizID)
	require.Equal(t, "Alex", sub.SubjectName)
	require.True(t, sub.Writing)
}

func TestNormalizeFirstNonEmptyCandidateWins(t *testing.T) {
	n := New(nil, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"response_id": "",
		"responseId":  "camel-wins",
		"quiz_name":   "Reading",
	})
	require.NoError(t, err)
	require.Equal(t, "camel-wins", sub.ResponseID)
}

func TestNormalizeNumericResponseID(t *testing.T) {
	n := New(nil, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"response_id": 12345.0,
		"quiz_name":   "Numeracy",
	})
	require.NoError(t, err)
	require.Equal(t, "12345", sub.ResponseID)
}

func TestNormalizeMissingResponseIDFails(t *testing.T) {
	n := New(nil, zerolog.Nop())

	_, err := n.Normalize(context.Background(), map[string]interface{}{
		"quiz_name": "Year 3 Reading",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingResponseID))
}

func TestNormalizeResolvesQuizNameWhenAbsent(t *testing.T) {
	resolver := &stubResolver{quiz: quizapi.Quiz{ID: "q-3", Name: "Year 9 Writing"}}
	n := New(resolver, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"response_id": "r-3",
		"quiz_id":     "q-3",
	})
	require.NoError(t, err)
	require.Equal(t, 1, resolver.calls)
	require.Equal(t, "Year 9 Writing", sub.QuizName)
	require.True(t, sub.Writing)
}

func TestNormalizeResolverFailureLeavesScoredClassification(t *testing.T) {
	resolver := &stubResolver{err: errors.New("upstream down")}
	n := New(resolver, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"response_id": "r-4",
		"quiz_id":     "q-4",
	})
	require.NoError(t, err)
	require.False(t, sub.Writing)
}

func TestNormalizePercentageDerivedFromPoints(t *testing.T) {
	n := New(nil, zerolog.Nop())

	sub, err := n.Normalize(context.Background(), map[string]interface{}{
		"response_id": "r-5",
		"score": map[string]interface{}{
			"points":    15.0,
			"available": 20.0,
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 75.0, sub.Percentage, 0.001)
}

func TestIsWritingQuiz(t *testing.T) {
	require.True(t, IsWritingQuiz("Year 5 WRITING assessment"))
	require.False(t, IsWritingQuiz("Year 5 Numeracy"))
	require.False(t, IsWritingQuiz(""))
}

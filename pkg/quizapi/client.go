// Package quizapi is the HTTP client for the external quiz platform. All calls
// are stateless GET requests authenticated with an API-key header.
package quizapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const apiKeyHeader = "X-API-KEY"

// ErrNotFound indicates the quiz platform has no record for the requested resource.
var ErrNotFound = errors.New("quizapi: not found")

// Quiz is the metadata for one quiz.
type Quiz struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// QuestionResult is the per-question scoring detail for a response.
type QuestionResult struct {
	Question  string  `json:"question"`
	Category  string  `json:"category"`
	Scored    float64 `json:"scored"`
	Available float64 `json:"available"`
}

// Answer is one (question, answer-text) pair from a free-text response.
type Answer struct {
	Question string `json:"question"`
	Text     string `json:"text"`
}

// ResponseDetail is the full metadata for one response, including answer text for
// free-text quizzes.
type ResponseDetail struct {
	ResponseID string   `json:"response_id"`
	Status     string   `json:"status"`
	Prompt     string   `json:"prompt"`
	Answers    []Answer `json:"answers"`
}

// Config groups quiz API client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client talks to the quiz platform API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// New constructs a quiz API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("quiz api base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid quiz api base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("github.com/edassess/naplan-api/pkg/quizapi"),
		logger:  logger.With().Str("component", "quizapi_client").Logger(),
	}, nil
}

// Quiz fetches quiz metadata, used to resolve a quiz name when the webhook
// payload omits it.
func (c *Client) Quiz(ctx context.Context, quizID string) (Quiz, error) {
	var quiz Quiz
	err := c.get(ctx, fmt.Sprintf("/quizzes/%s", url.PathEscape(quizID)), &quiz)
	return quiz, err
}

// ResponseDetail fetches the full response metadata for a (quiz, response) pair.
func (c *Client) ResponseDetail(ctx context.Context, quizID, responseID string) (ResponseDetail, error) {
	var detail ResponseDetail
	err := c.get(ctx, fmt.Sprintf("/quizzes/%s/responses/%s", url.PathEscape(quizID), url.PathEscape(responseID)), &detail)
	return detail, err
}

// QuestionResults fetches the per-question scoring detail for a (quiz, response)
// pair. An empty list means the platform has not finalised scoring yet.
func (c *Client) QuestionResults(ctx context.Context, quizID, responseID string) ([]QuestionResult, error) {
	var results []QuestionResult
	err := c.get(ctx, fmt.Sprintf("/quizzes/%s/responses/%s/questions", url.PathEscape(quizID), url.PathEscape(responseID)), &results)
	return results, err
}

func (c *Client) get(parent context.Context, path string, out interface{}) error {
	ctx, span := c.tracer.Start(parent, "quizapi.get", trace.WithAttributes(
		attribute.String("http.route", path),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("quizapi request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("quizapi get %s: %w", path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("quizapi get %s: %w", path, ErrNotFound)
	case resp.StatusCode >= 300:
		err := fmt.Errorf("quizapi get %s: unexpected status %d", path, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("quizapi decode %s: %w", path, err)
	}

	return nil
}

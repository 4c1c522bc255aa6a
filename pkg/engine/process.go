package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	engineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "naplan",
		Subsystem: "engine",
		Name:      "invocation_duration_seconds",
		Help:      "Duration of scoring engine invocations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task"})

	engineTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "naplan",
		Subsystem: "engine",
		Name:      "invocation_timeouts_total",
		Help:      "Number of engine invocations that hit the timeout",
	}, []string{"task"})

	engineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "naplan",
		Subsystem: "engine",
		Name:      "invocation_failures_total",
		Help:      "Number of engine invocations that resulted in an error",
	}, []string{"task"})
)

// ErrTimeout indicates the engine process exceeded its wall-clock deadline and
// was killed.
var ErrTimeout = errors.New("engine: invocation timed out")

// ErrOutputTooLarge indicates the engine wrote more than the configured output cap.
var ErrOutputTooLarge = errors.New("engine: output exceeds size limit")

const (
	taskSubjectFeedback = "subject_feedback"
	taskWritingEval     = "writing_eval"

	defaultTimeout   = 90 * time.Second
	defaultOutputCap = 1 << 20 // 1 MiB
)

// ProcessConfig groups subprocess engine configuration values.
type ProcessConfig struct {
	// Interpreter is the executable to spawn, e.g. "python3".
	Interpreter string
	// FeedbackScript is the subject-feedback generator entry point.
	FeedbackScript string
	// WritingScript is the writing evaluator entry point.
	WritingScript string
	// Timeout is the hard wall-clock limit per invocation.
	Timeout time.Duration
	// MaxOutputBytes caps how much stdout is read before the invocation fails.
	MaxOutputBytes int64
	Logger         zerolog.Logger
}

// ProcessEngine runs the scoring engine as a subprocess: one JSON object written
// to stdin, one JSON object read from stdout. The process is killed past the
// deadline and stdout is read through a size cap.
type ProcessEngine struct {
	cfg    ProcessConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewProcessEngine constructs a subprocess-backed engine.
func NewProcessEngine(cfg ProcessConfig) (*ProcessEngine, error) {
	if cfg.Interpreter == "" {
		return nil, fmt.Errorf("engine interpreter is required")
	}
	if cfg.FeedbackScript == "" || cfg.WritingScript == "" {
		return nil, fmt.Errorf("engine scripts are required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultOutputCap
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &ProcessEngine{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/edassess/naplan-api/pkg/engine"),
		logger: logger.With().Str("component", "process_engine").Logger(),
	}, nil
}

// GenerateSubjectFeedback invokes the subject-feedback generator.
func (e *ProcessEngine) GenerateSubjectFeedback(ctx context.Context, req SubjectFeedbackRequest) (SubjectFeedbackResult, error) {
	var result SubjectFeedbackResult
	if err := e.invoke(ctx, taskSubjectFeedback, e.cfg.FeedbackScript, req, &result); err != nil {
		return SubjectFeedbackResult{}, err
	}
	return result, nil
}

// EvaluateWriting invokes the writing evaluator.
func (e *ProcessEngine) EvaluateWriting(ctx context.Context, req WritingRequest) (WritingResult, error) {
	var result WritingResult
	if err := e.invoke(ctx, taskWritingEval, e.cfg.WritingScript, req, &result); err != nil {
		return WritingResult{}, err
	}
	return result, nil
}

func (e *ProcessEngine) invoke(parent context.Context, task, script string, payload, out interface{}) error {
	ctx, span := e.tracer.Start(parent, "engine.invoke", trace.WithAttributes(
		attribute.String("engine.task", task),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	input, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("engine marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Interpreter, script)
	cmd.Stdin = bytes.NewReader(input)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		engineFailures.WithLabelValues(task).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("engine start: %w", err)
	}

	// Read one byte past the cap so overflow is detectable, then drain the rest
	// so the child never blocks on a full pipe before Wait.
	output, readErr := io.ReadAll(io.LimitReader(stdout, e.cfg.MaxOutputBytes+1))
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	engineDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())

	if ctx.Err() == context.DeadlineExceeded {
		engineTimeouts.WithLabelValues(task).Inc()
		span.RecordError(ErrTimeout)
		span.SetStatus(codes.Error, "engine timed out")
		return fmt.Errorf("%w after %s", ErrTimeout, e.cfg.Timeout)
	}

	if int64(len(output)) > e.cfg.MaxOutputBytes {
		engineFailures.WithLabelValues(task).Inc()
		span.RecordError(ErrOutputTooLarge)
		span.SetStatus(codes.Error, ErrOutputTooLarge.Error())
		return fmt.Errorf("%w (cap %d bytes)", ErrOutputTooLarge, e.cfg.MaxOutputBytes)
	}

	if readErr != nil {
		engineFailures.WithLabelValues(task).Inc()
		span.RecordError(readErr)
		return fmt.Errorf("engine read output: %w", readErr)
	}

	if waitErr != nil {
		engineFailures.WithLabelValues(task).Inc()
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, waitErr.Error())
		e.logger.Error().Err(waitErr).Str("task", task).Str("stderr", truncate(stderr.String(), 512)).Msg("engine process failed")
		return fmt.Errorf("engine exited abnormally: %w", waitErr)
	}

	if err := decodeEngineOutput(output, out); err != nil {
		engineFailures.WithLabelValues(task).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

// decodeEngineOutput parses the engine's stdout. Direct JSON parse is attempted
// first; the engine may print diagnostic text around the payload, so the fallback
// extracts the outermost {...} block.
func decodeEngineOutput(output []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return fmt.Errorf("engine returned empty output")
	}

	if err := json.Unmarshal(trimmed, out); err == nil {
		return nil
	}

	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("engine output contains no JSON object")
	}

	if err := json.Unmarshal(trimmed[start:end+1], out); err != nil {
		return fmt.Errorf("engine output is not valid JSON: %w", err)
	}

	return nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	CORSOrigins string

	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	QuizAPIBaseURL string
	QuizAPIKey     string
	QuizAPITimeout time.Duration

	AIProvider           string
	OpenAIAPIKey         string
	OpenAIModel          string
	EngineInterpreter    string
	EngineFeedbackScript string
	EngineWritingScript  string
	EngineTimeout        time.Duration

	IdempotencyWindow time.Duration
	DispatchQueueSize int

	NATSURL     string
	NATSSubject string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("NAPLAN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "NAPLAN Feedback API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.origins", "*")
	v.SetDefault("quizapi.timeout", "15s")
	v.SetDefault("ai.provider", "process")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("engine.interpreter", "python3")
	v.SetDefault("engine.timeout", "90s")
	v.SetDefault("idempotency.window", "1h")
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("nats.subject", "quiz.events")

	quizTimeout, err := time.ParseDuration(v.GetString("quizapi.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid quiz api timeout: %w", err)
	}

	engineTimeout, err := time.ParseDuration(v.GetString("engine.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid engine timeout: %w", err)
	}

	window, err := time.ParseDuration(v.GetString("idempotency.window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid idempotency window: %w", err)
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		CORSOrigins:          v.GetString("cors.origins"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		JWTSecret:            v.GetString("jwt.secret"),
		QuizAPIBaseURL:       v.GetString("quizapi.base_url"),
		QuizAPIKey:           v.GetString("quizapi.key"),
		QuizAPITimeout:       quizTimeout,
		AIProvider:           strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		OpenAIModel:          v.GetString("openai.model"),
		EngineInterpreter:    v.GetString("engine.interpreter"),
		EngineFeedbackScript: v.GetString("engine.feedback_script"),
		EngineWritingScript:  v.GetString("engine.writing_script"),
		EngineTimeout:        engineTimeout,
		IdempotencyWindow:    window,
		DispatchQueueSize:    v.GetInt("dispatch.queue_size"),
		NATSURL:              v.GetString("nats.url"),
		NATSSubject:          v.GetString("nats.subject"),
	}

	if cfg.QuizAPIBaseURL == "" {
		return Config{}, fmt.Errorf("quiz api base url must be provided")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("openai api key must be provided when ai provider is openai")
		}
	case "process":
		if cfg.EngineFeedbackScript == "" {
			return Config{}, fmt.Errorf("engine feedback script must be provided when ai provider is process")
		}
		if cfg.EngineWritingScript == "" {
			return Config{}, fmt.Errorf("engine writing script must be provided when ai provider is process")
		}
	default:
		return Config{}, fmt.Errorf("unknown ai provider %q", cfg.AIProvider)
	}

	if cfg.DispatchQueueSize <= 0 {
		cfg.DispatchQueueSize = 256
	}

	return cfg, nil
}

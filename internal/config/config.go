package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	LogLevel string
	LogJSON  bool

	// database
	DBDriver string // mysql | postgres | sqlite
	DBDSN    string

	JWTSecret         string
	DevClinicianID    string
	CORSAllowedOrigin []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// audio blob area
	RecordingDir      string
	MaxRecordingBytes int64

	// speech provider
	SpeechBaseURL      string
	SpeechAPIKey       string
	SpeechPollInterval time.Duration
	SpeechMaxWait      time.Duration

	// note generation
	NoteProvider    string
	NoteModel       string
	NoteTemperature float64
	NoteMaxTokens   int
	NotePromptsFile string
	NoteLockTTL     time.Duration

	// AI providers
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OllamaBaseURL     string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// rabbitMQ; empty URL runs jobs in-process
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
}

func Load() Config {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	driver := strings.ToLower(envStr("DB_DRIVER", "mysql"))
	if dsn == "" {
		switch driver {
		case "sqlite":
			dsn = "file:mindscribe.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		case "postgres":
			dsn = "host=127.0.0.1 user=app password=apppass dbname=mindscribe port=5432 sslmode=disable"
		default:
			// app:apppass@tcp(127.0.0.1:3306)/mindscribe?charset=utf8mb4&parseTime=true&loc=Local
			dsn = "app:apppass@tcp(127.0.0.1:3306)/mindscribe?charset=utf8mb4&parseTime=true&loc=Local"
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	var origins []string
	for _, o := range strings.Split(envStr("CORS_ALLOWED_ORIGINS", "http://localhost:5173"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		HTTPAddr: envStr("HTTP_ADDR", ":8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),
		LogJSON:  envBool("LOG_JSON", false),

		DBDriver: driver,
		DBDSN:    dsn,

		JWTSecret:         secret,
		DevClinicianID:    os.Getenv("DEV_CLINICIAN_ID"),
		CORSAllowedOrigin: origins,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		RecordingDir:      envStr("RECORDING_DIR", "./data/recordings"),
		MaxRecordingBytes: int64(envInt("MAX_RECORDING_MB", 500)) << 20,

		SpeechBaseURL:      envStr("SPEECH_BASE_URL", "https://api.assemblyai.com"),
		SpeechAPIKey:       os.Getenv("SPEECH_API_KEY"),
		SpeechPollInterval: envDuration("SPEECH_POLL_INTERVAL", 3*time.Second),
		SpeechMaxWait:      envDuration("SPEECH_MAX_WAIT", 30*time.Minute),

		NoteProvider:    envStr("NOTE_PROVIDER", "openai"),
		NoteModel:       envStr("NOTE_MODEL", "gpt-4o-mini"),
		NoteTemperature: envFloat("NOTE_TEMPERATURE", 0.3),
		NoteMaxTokens:   envInt("NOTE_MAX_TOKENS", 2000),
		NotePromptsFile: os.Getenv("NOTE_PROMPTS_FILE"),
		NoteLockTTL:     envDuration("NOTE_LOCK_TTL", 5*time.Minute),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OllamaBaseURL:     envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OpenRouterBaseURL: envStr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       envStr("RABBIT_QUEUE", "session_pipeline"),
		WorkerConcurrency: clamp(envInt("WORKER_CONCURRENCY", 2), 1, 50),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

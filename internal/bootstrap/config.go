package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string
	Version    string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	STTBaseURL           string
	STTAPIKey            string
	STTModel             string
	STTLanguage          string
	STTTimeout           time.Duration
	STTMaxConcurrent     int
	STTRequestsPerSecond float64

	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitURL       string

	VADThreshold       float64
	MinVoiceDuration   time.Duration
	PhraseEndSilence   time.Duration
	MaxBuffer          time.Duration
	FlushCooldown      time.Duration
	FrameQueueSize     int
	TranscribeTimeout  time.Duration
	SessionIdleTimeout time.Duration
	FallbackSimulation bool
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Version:    getEnv("VERSION", "dev"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		STTBaseURL:           getEnv("STT_BASE_URL", "http://localhost:9000"),
		STTAPIKey:            getEnv("STT_API_KEY", ""),
		STTModel:             getEnv("STT_MODEL", "whisper-1"),
		STTLanguage:          getEnv("STT_LANGUAGE", "pt"),
		STTTimeout:           getEnvDuration("STT_TIMEOUT_MS", 30*time.Second),
		STTMaxConcurrent:     getEnvInt("STT_MAX_CONCURRENT", 8),
		STTRequestsPerSecond: getEnvFloat("STT_REQUESTS_PER_SECOND", 10),

		LiveKitAPIKey:    getEnv("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnv("LIVEKIT_API_SECRET", ""),
		LiveKitURL:       getEnv("LIVEKIT_URL", ""),

		VADThreshold:       getEnvFloat("VAD_THRESHOLD", 0.015),
		MinVoiceDuration:   getEnvDuration("MIN_VOICE_DURATION_MS", 1200*time.Millisecond),
		PhraseEndSilence:   getEnvDuration("PHRASE_END_SILENCE_MS", 2500*time.Millisecond),
		MaxBuffer:          getEnvDuration("MAX_BUFFER_MS", 30*time.Second),
		FlushCooldown:      getEnvDuration("FLUSH_COOLDOWN_MS", 1500*time.Millisecond),
		FrameQueueSize:     getEnvInt("FRAME_QUEUE_SIZE", 64),
		TranscribeTimeout:  getEnvDuration("TRANSCRIBE_TIMEOUT_MS", 30*time.Second),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT_MS", 10*time.Minute),
		FallbackSimulation: getEnv("FALLBACK_SIMULATION", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

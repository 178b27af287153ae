// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	AMQPURL     string
	HTTPAddr    string
	LogLevel    string
	LogJSON     bool

	Timezone         *time.Location
	SlotDuration     time.Duration
	PassTimeout      time.Duration
	LockTTL          time.Duration
	SweepConcurrency int
	ScheduleCron     string
	PassRetryDelay   time.Duration

	WorkerID           string
	WorkerCount        int
	WorkerPollInterval time.Duration
	WorkerRetryBackoff time.Duration
	JobMaxAttempts     int
	CallPollInterval   time.Duration
	CallPollMaxChecks  int

	VoiceAPIURL     string
	VoiceAPIKey     string
	VoiceFromNumber string
	VoiceAgentID    string
	VoiceGreeting   string
	VoiceTimeout    time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine, the OS environment is authoritative.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     databaseURL(),
		RedisURL:        os.Getenv("REDIS_URL"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ScheduleCron:    getEnv("SCHEDULE_CRON", "0 9 * * *"),
		VoiceAPIURL:     getEnv("VOICE_API_URL", "https://api.retellai.com"),
		VoiceAPIKey:     os.Getenv("VOICE_API_KEY"),
		VoiceFromNumber: os.Getenv("VOICE_FROM_NUMBER"),
		VoiceAgentID:    os.Getenv("VOICE_AGENT_ID"),
		VoiceGreeting:   os.Getenv("VOICE_GREETING"),
		WorkerID:        getEnv("WORKER_ID", hostname()),
	}

	var err error
	if cfg.LogJSON, err = getBool("LOG_JSON", true); err != nil {
		return nil, err
	}
	if cfg.Timezone, err = time.LoadLocation(getEnv("TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	if cfg.SlotDuration, err = getDuration("SLOT_DURATION", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PassTimeout, err = getDuration("PASS_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency, err = getInt("SWEEP_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getInt("WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerPollInterval, err = getDuration("WORKER_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.PassRetryDelay, err = getDuration("PASS_RETRY_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WorkerRetryBackoff, err = getDuration("WORKER_RETRY_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.VoiceTimeout, err = getDuration("VOICE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobMaxAttempts, err = getInt("JOB_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.CallPollInterval, err = getDuration("CALL_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CallPollMaxChecks, err = getInt("CALL_POLL_MAX_CHECKS", 60); err != nil {
		return nil, err
	}

	if cfg.SlotDuration <= 0 {
		return nil, fmt.Errorf("SLOT_DURATION must be positive, got %s", cfg.SlotDuration)
	}
	if cfg.SweepConcurrency < 1 {
		cfg.SweepConcurrency = 1
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return cfg, nil
}

func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	user := os.Getenv("DB_USER")
	if user == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, os.Getenv("DB_PASSWORD"), getEnv("DB_HOST", "localhost"), getEnv("DB_PORT", "5432"), os.Getenv("DB_NAME"),
	)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "worker"
	}
	return name
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

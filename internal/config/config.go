package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port       int    `env:"PORT" envDefault:"8080"`
	Env        string `env:"ENV" envDefault:"development"`
	GinMode    string `env:"GIN_MODE"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty  bool   `env:"LOG_PRETTY" envDefault:"false"`
	TrustProxy string `env:"TRUSTED_PROXY" envDefault:"127.0.0.1"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	DBPath      string `env:"DB_PATH" envDefault:"data/heungbuja.db"`
	CatalogPath string `env:"CATALOG_PATH" envDefault:"data/catalog.yaml"`

	JudgeBaseURL   string        `env:"JUDGE_BASE_URL" envDefault:"http://localhost:8000"`
	JudgeTimeout   time.Duration `env:"JUDGE_TIMEOUT" envDefault:"3s"`
	JudgeWorkers   int           `env:"JUDGE_WORKERS" envDefault:"8"`
	JudgeQueueSize int           `env:"JUDGE_QUEUE_SIZE" envDefault:"256"`
	JudgeEveryN    int           `env:"JUDGE_EVERY_N" envDefault:"1"`

	// Timing window tuning, in seconds.
	LatencyOffset float64 `env:"LATENCY_OFFSET" envDefault:"0.2"`
	WindowBeats   float64 `env:"WINDOW_BEATS" envDefault:"1.0"`
	StaleEpsilon  float64 `env:"STALE_EPSILON" envDefault:"0.1"`

	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	WatchdogInterval  time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"1s"`
	WatchdogParallel  int           `env:"WATCHDOG_PARALLEL" envDefault:"16"`
	StallThreshold    time.Duration `env:"STALL_THRESHOLD" envDefault:"1s"`
	FinalizeLockTTL   time.Duration `env:"FINALIZE_LOCK_TTL" envDefault:"10s"`
	LeaseTTL          time.Duration `env:"LEASE_TTL" envDefault:"5s"`
	WorkerIdleTimeout time.Duration `env:"WORKER_IDLE_TIMEOUT" envDefault:"30s"`
	WorkerQueueSize   int           `env:"WORKER_QUEUE_SIZE" envDefault:"64"`

	Level3MinScore     float64 `env:"LEVEL3_MIN_SCORE" envDefault:"50"`
	Level2MinScore     float64 `env:"LEVEL2_MIN_SCORE" envDefault:"30"`
	ExcludeAbsentVerse bool    `env:"EXCLUDE_ABSENT_VERSE" envDefault:"true"`

	MediaBaseURL    string        `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8080/media"`
	MediaSigningKey string        `env:"MEDIA_SIGNING_KEY" envDefault:"dev-signing-key"`
	MediaURLTTL     time.Duration `env:"MEDIA_URL_TTL" envDefault:"1h"`
	MediaDir        string        `env:"MEDIA_DIR" envDefault:"data/media"`

	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RateLimiterTTL time.Duration `env:"RATE_LIMITER_TTL" envDefault:"1h"`
	SongListLimit  int           `env:"SONG_LIST_LIMIT" envDefault:"5"`
	SongCacheAge   time.Duration `env:"SONG_LIST_CACHE_AGE" envDefault:"1m"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.GinMode == "release" || c.Env == "production"
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.JudgeBaseURL == "" {
		return fmt.Errorf("JUDGE_BASE_URL must not be empty")
	}
	if c.JudgeWorkers < 1 {
		return fmt.Errorf("JUDGE_WORKERS must be positive, got %d", c.JudgeWorkers)
	}
	if c.JudgeEveryN < 1 {
		return fmt.Errorf("JUDGE_EVERY_N must be at least 1, got %d", c.JudgeEveryN)
	}
	if c.LatencyOffset < 0 || c.StaleEpsilon < 0 {
		return fmt.Errorf("LATENCY_OFFSET and STALE_EPSILON must not be negative")
	}
	if c.WindowBeats <= 0 {
		return fmt.Errorf("WINDOW_BEATS must be positive, got %v", c.WindowBeats)
	}
	if c.Level2MinScore > c.Level3MinScore {
		return fmt.Errorf("LEVEL2_MIN_SCORE (%v) must not exceed LEVEL3_MIN_SCORE (%v)", c.Level2MinScore, c.Level3MinScore)
	}
	if c.WatchdogInterval <= 0 || c.StallThreshold <= 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL and STALL_THRESHOLD must be positive")
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1m, got %v", c.SessionTTL)
	}
	return nil
}

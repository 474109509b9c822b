package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Late-event policies for the windowed aggregator.
const (
	LatePolicyAccept = "accept"
	LatePolicyDrop   = "drop"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	AdminAddr string `env:"ADMIN_ADDR" envDefault:":9091"`

	RedisAddr   string `env:"REDIS_ADDR,required"`
	PostgresURL string `env:"POSTGRES_URL,required"`

	InputStream      string `env:"INPUT_STREAM" envDefault:"transactions"`
	ConsumerGroup    string `env:"CONSUMER_GROUP" envDefault:"txn-processors"`
	ReadBatchSize    int    `env:"READ_BATCH_SIZE" envDefault:"100"`
	WorkerCount      int    `env:"WORKER_COUNT" envDefault:"4"`
	WorkerQueueDepth int    `env:"WORKER_QUEUE_DEPTH" envDefault:"256"`

	HighValueThreshold  float64 `env:"HIGH_VALUE_THRESHOLD" envDefault:"1000"`
	SuspiciousThreshold float64 `env:"SUSPICIOUS_THRESHOLD" envDefault:"5000"`

	WindowLength    time.Duration `env:"WINDOW_LENGTH" envDefault:"5m"`
	WindowHop       time.Duration `env:"WINDOW_HOP" envDefault:"1m"`
	WindowRetention time.Duration `env:"WINDOW_RETENTION" envDefault:"0"` // 0 = 2x window length
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	LateEventPolicy string        `env:"LATE_EVENT_POLICY" envDefault:"accept"`
	MaxEventLag     time.Duration `env:"MAX_EVENT_LAG" envDefault:"15m"`

	HealthWindow  time.Duration `env:"HEALTH_WINDOW" envDefault:"1m"`
	ErrorRateWarn float64       `env:"ERROR_RATE_WARN" envDefault:"0.05"`
	ErrorRateCrit float64       `env:"ERROR_RATE_CRIT" envDefault:"0.20"`

	SinkRetryCount   int           `env:"SINK_RETRY_COUNT" envDefault:"3"`
	SinkRetryBackoff time.Duration `env:"SINK_RETRY_BACKOFF" envDefault:"200ms"`
	DeadLetterBuffer int           `env:"DEAD_LETTER_BUFFER" envDefault:"1024"`

	WALPath        string `env:"WAL_PATH" envDefault:"./wal"`
	WALSegmentSize int64  `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"` // 100MB
	WALMaxDiskSize int64  `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB

	ArchiveBatchSize int `env:"ARCHIVE_BATCH_SIZE" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.WindowHop <= 0 || cfg.WindowLength <= 0 || cfg.WindowLength%cfg.WindowHop != 0 {
		return nil, fmt.Errorf("window length %v must be a positive multiple of hop %v", cfg.WindowLength, cfg.WindowHop)
	}
	if cfg.LateEventPolicy != LatePolicyAccept && cfg.LateEventPolicy != LatePolicyDrop {
		return nil, fmt.Errorf("unknown late event policy %q", cfg.LateEventPolicy)
	}
	if cfg.SuspiciousThreshold < cfg.HighValueThreshold {
		return nil, fmt.Errorf("suspicious threshold %v below high-value threshold %v", cfg.SuspiciousThreshold, cfg.HighValueThreshold)
	}
	if cfg.WindowRetention <= 0 {
		cfg.WindowRetention = 2 * cfg.WindowLength
	}

	return cfg, nil
}

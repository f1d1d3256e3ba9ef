package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ztimer/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig           `yaml:"server"`
	Storage     StorageConfig          `yaml:"storage"`
	Journal     JournalConfig          `yaml:"journal"`
	Kafka       KafkaConfig            `yaml:"kafka"`
	Leaderboard LeaderboardConfig      `yaml:"leaderboard"`
	Timers      map[string]TimerConfig `yaml:"timers"`
	Format      FormatConfig           `yaml:"format"`
	Reconnect   ReconnectConfig        `yaml:"reconnect"`
	Debug       DebugConfig            `yaml:"debug"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Storage backend types
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// StorageConfig selects and configures the durable store backend. The
// backend is chosen once at startup and fixed for the process lifetime.
type StorageConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds the embedded store configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// JournalConfig holds the pending-completion journal configuration
type JournalConfig struct {
	Path string `yaml:"path"`
}

// KafkaConfig holds Kafka consumer configuration for the timer event topic
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// LeaderboardConfig holds leaderboard sizing: a global default and
// optional per-timer overrides. Keys are normalized on load.
type LeaderboardConfig struct {
	DefaultTopN int            `yaml:"default_top_n"`
	PerTimer    map[string]int `yaml:"per_timer"`
}

// TimerConfig holds per-timer command lists. Relog commands are deferred to
// the player's reconnect via the journal; logout commands run immediately on
// disconnect. Keys are normalized on load.
type TimerConfig struct {
	RelogCommands  []string `yaml:"relog_commands"`
	LogoutCommands []string `yaml:"logout_commands"`
}

// FormatConfig holds time display settings
type FormatConfig struct {
	TimePattern string `yaml:"time_pattern"`
	TimeDefault string `yaml:"time_default"`
}

// ReconnectConfig holds reconnect replay settings
type ReconnectConfig struct {
	// CommandDelay is how long to wait after a reconnect before running the
	// deferred commands, so the player's session is fully established.
	CommandDelay time.Duration `yaml:"command_delay"`
}

// DebugConfig holds diagnostic logging toggles
type DebugConfig struct {
	Enabled      bool `yaml:"enabled"`
	LogStartStop bool `yaml:"log_start_stop"`
	LogDBErrors  bool `yaml:"log_db_errors"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.normalizeKeys()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Storage defaults
	if c.Storage.Type == "" {
		c.Storage.Type = StorageSQLite
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "ztimer.db"
	}
	if c.Storage.Postgres.Host == "" {
		c.Storage.Postgres.Host = "localhost"
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.MaxConnections == 0 {
		c.Storage.Postgres.MaxConnections = 20
	}
	if c.Storage.Postgres.MinConnections == 0 {
		c.Storage.Postgres.MinConnections = 2
	}
	if c.Storage.Postgres.MaxConnLifetime == 0 {
		c.Storage.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Storage.Postgres.MaxConnIdleTime == 0 {
		c.Storage.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Journal defaults
	if c.Journal.Path == "" {
		c.Journal.Path = "pending_completions.yml"
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "timer-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "ztimer-consumer"
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultTopN == 0 {
		c.Leaderboard.DefaultTopN = 5
	}

	// Format defaults
	if c.Format.TimePattern == "" {
		c.Format.TimePattern = "mm:ss"
	}
	if c.Format.TimeDefault == "" {
		c.Format.TimeDefault = "-"
	}

	// Reconnect defaults
	if c.Reconnect.CommandDelay == 0 {
		c.Reconnect.CommandDelay = 100 * time.Millisecond
	}
}

// normalizeKeys rewrites per-timer maps so lookups always hit the canonical
// timer id regardless of how the key was written in the file. Keys that
// normalize to empty are dropped.
func (c *Config) normalizeKeys() {
	if len(c.Leaderboard.PerTimer) > 0 {
		normalized := make(map[string]int, len(c.Leaderboard.PerTimer))
		for key, n := range c.Leaderboard.PerTimer {
			id, err := domain.NormalizeTimerID(key)
			if err != nil {
				continue
			}
			normalized[id] = n
		}
		c.Leaderboard.PerTimer = normalized
	}

	if len(c.Timers) > 0 {
		normalized := make(map[string]TimerConfig, len(c.Timers))
		for key, tc := range c.Timers {
			id, err := domain.NormalizeTimerID(key)
			if err != nil {
				continue
			}
			normalized[id] = tc
		}
		c.Timers = normalized
	}
}

// TopNForTimer returns the leaderboard size for a timer, falling back to the
// global default. The id is expected to be normalized already.
func (c *Config) TopNForTimer(timerID string) int {
	if n, ok := c.Leaderboard.PerTimer[timerID]; ok && n > 0 {
		return n
	}
	return c.Leaderboard.DefaultTopN
}

// RelogCommandsForTimer returns the deferred commands configured for a timer.
func (c *Config) RelogCommandsForTimer(timerID string) []string {
	return c.Timers[timerID].RelogCommands
}

// LogoutCommandsForTimer returns the commands run immediately on disconnect.
func (c *Config) LogoutCommandsForTimer(timerID string) []string {
	return c.Timers[timerID].LogoutCommands
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

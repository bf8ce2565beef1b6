package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
)

type Config struct {
	ListenAddr        string         `yaml:"listen_addr"`
	Timezone          string         `yaml:"timezone"`
	RolloverSchedule  string         `yaml:"rollover_schedule"` // cron expression for the daily rollover
	DefaultCategories []string       `yaml:"default_categories"`
	Storage           StorageConfig  `yaml:"storage"`
	Auth              AuthConfig     `yaml:"auth"`
	Retry             RetryConfig    `yaml:"retry"`
	InfluxDB          InfluxDBConfig `yaml:"influxdb"`
}

type StorageConfig struct {
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	MongoDB    MongoDBConfig  `yaml:"mongodb"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig holds the HS256 secret for bearer tokens. An empty secret
// disables token checks and the X-User-ID header is trusted instead.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether progress points should be written to InfluxDB.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

var defaultCategories = []string{"Study", "Work", "Exercise", "Reading", "Leisure", "Coding"}

func Load(path string) (*Config, error) {
	// A missing .env is fine; the process environment is used as is.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituteEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// substituteEnv replaces ${NAME} placeholders with environment values.
func substituteEnv(content string) string {
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}
	return content
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3040"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.RolloverSchedule == "" {
		c.RolloverSchedule = "0 0 * * *" // local midnight
	}
	if len(c.DefaultCategories) == 0 {
		c.DefaultCategories = append([]string(nil), defaultCategories...)
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "daytracker.db"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "daytracker"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = 30 * time.Second
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = 10 * time.Minute
	}
}

// Validate rejects settings that would only fail later at startup.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverMongoDB:
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required for driver %q", DriverMongoDB)
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for driver %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if _, err := cron.ParseStandard(c.RolloverSchedule); err != nil {
		return fmt.Errorf("invalid rollover_schedule %q: %w", c.RolloverSchedule, err)
	}
	if c.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff %s is shorter than retry.initial_backoff %s",
			c.Retry.MaxBackoff, c.Retry.InitialBackoff)
	}
	return nil
}

func (c *Config) GetTimezone() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

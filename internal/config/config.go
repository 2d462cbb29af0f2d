package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"goldmap-platform/internal/models"
)

const (
	configPathEnv = "GOLDMAP_CONFIG"
	databaseDSN   = "DATABASE_URL"
)

// Duration wraps time.Duration so YAML values carry a unit, e.g. "60s"
// or "30m". Bare numbers are rejected rather than silently read as
// nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

// Config holds all settings required across the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sources  []SourceConfig `yaml:"sources"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	IdleTimeout  Duration `yaml:"idleTimeout"`
}

// DatabaseConfig describes the Postgres/PostGIS connection.
type DatabaseConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	Database        string   `yaml:"database"`
	SSLMode         string   `yaml:"sslMode"`
	MaxOpenConns    int      `yaml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime Duration `yaml:"connMaxIdleTime"`
}

// QueueConfig tunes the job queue manager.
type QueueConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	BackoffDelay   Duration `yaml:"backoffDelay"`
	KeepCompleted  int      `yaml:"keepCompleted"`
	KeepFailed     int      `yaml:"keepFailed"`
	CollectionCron string   `yaml:"collectionCron"`
	CleanupCron    string   `yaml:"cleanupCron"`
	OptimizeCron   string   `yaml:"optimizeCron"`
}

// LoggingConfig selects the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SourceConfig describes one upstream WFS service.
type SourceConfig struct {
	Name        string             `yaml:"name"`
	Kind        models.SourceKind  `yaml:"kind"`
	Description string             `yaml:"description"`
	BaseURL     string             `yaml:"baseUrl"`
	TypeName    string             `yaml:"typeName"`
	Version     string             `yaml:"version"`
	SRSName     string             `yaml:"srsName"`
	MaxFeatures int                `yaml:"maxFeatures"`
	Timeout     Duration           `yaml:"timeout"`
	DefaultBBox models.BoundingBox `yaml:"defaultBBox"`
}

// LoadConfig reads YAML configuration (if GOLDMAP_CONFIG points at a
// file) and applies environment overrides on top of built-in defaults.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultSources()
	}

	return cfg, nil
}

// Validate checks settings that have no sane fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	for _, src := range c.Sources {
		if src.Name == "" || src.BaseURL == "" || src.TypeName == "" {
			return fmt.Errorf("source %q missing name, baseUrl, or typeName", src.Name)
		}
		if err := src.DefaultBBox.Validate(); err != nil {
			return fmt.Errorf("source %q default bbox: %w", src.Name, err)
		}
	}
	return nil
}

// Source looks up a configured source by name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// SourceNames lists all configured source names.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		names = append(names, src.Name)
	}
	return names
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Database.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("USGS_MRDS_BASE_URL"); v != "" {
		c.overrideSourceURL(models.SourceKindMRDS, v)
	}
	if v := os.Getenv("USGS_DEPOSIT_BASE_URL"); v != "" {
		c.overrideSourceURL(models.SourceKindDeposit, v)
	}
}

func (c *Config) overrideSourceURL(kind models.SourceKind, url string) {
	for i := range c.Sources {
		if c.Sources[i].Kind == kind {
			c.Sources[i].BaseURL = url
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  seconds(15),
			WriteTimeout: seconds(120),
			IdleTimeout:  seconds(60),
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Database:        "goldmap",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{30 * time.Minute},
			ConnMaxIdleTime: Duration{5 * time.Minute},
		},
		Queue: QueueConfig{
			Concurrency:    2,
			MaxAttempts:    3,
			BackoffDelay:   seconds(1),
			KeepCompleted:  100,
			KeepFailed:     1000,
			CollectionCron: "0 3 * * *",
			CleanupCron:    "30 4 * * 0",
			OptimizeCron:   "0 5 * * 0",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// defaultSources mirrors the USGS services the platform was built
// around. The default bounding box covers northern California.
func defaultSources() []SourceConfig {
	norcal := models.BoundingBox{
		MinLon: -124.407182,
		MinLat: 40.071180,
		MaxLon: -122.393331,
		MaxLat: 41.740961,
	}

	return []SourceConfig{
		{
			Name:        "usgs-mrds",
			Kind:        models.SourceKindMRDS,
			Description: "USGS Mineral Resources Data System",
			BaseURL:     "https://mrdata.usgs.gov/services/wfs/mrds",
			TypeName:    "mrds",
			Version:     "1.0.0",
			SRSName:     "EPSG:4326",
			MaxFeatures: 10000,
			Timeout:     seconds(60),
			DefaultBBox: norcal,
		},
		{
			Name:        "usgs-deposit",
			Kind:        models.SourceKindDeposit,
			Description: "USGS mineral deposit points",
			BaseURL:     "https://mrdata.usgs.gov/services/wfs/deposit",
			TypeName:    "points",
			Version:     "1.0.0",
			SRSName:     "EPSG:4326",
			MaxFeatures: 50000,
			Timeout:     seconds(60),
			DefaultBBox: norcal,
		},
	}
}

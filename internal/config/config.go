package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Hub       HubConfig       `yaml:"hub"`
	Source    SourceConfig    `yaml:"source"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Collector CollectorConfig `yaml:"collector"`
	Intel     IntelConfig     `yaml:"intel"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	UseSSL    bool          `yaml:"use_ssl"`
	LinkTTL   time.Duration `yaml:"link_ttl"`
}

// HubConfig points the collector and intel binaries at the hub API.
type HubConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SourceConfig holds the camera-management API credentials shared by all
// sites. Per-site endpoints live in CollectorConfig.Sites.
type SourceConfig struct {
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	ClientName string        `yaml:"client_name"`
	UserNonce  string        `yaml:"user_nonce"`
	UserKey    string        `yaml:"user_key"`
	VerifySSL  bool          `yaml:"verify_ssl"`
	PageSize   int           `yaml:"page_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type MatcherConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	CollectionID    string        `yaml:"collection_id"`
	MatchThreshold  float64       `yaml:"match_threshold"`
	AmbiguityMargin float64       `yaml:"ambiguity_margin"`
	MaxCandidates   int           `yaml:"max_candidates"`
	Timeout         time.Duration `yaml:"timeout"`
}

type SiteConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	APIBase string `yaml:"api_base"`
}

type CollectorConfig struct {
	Sites                    []SiteConfig  `yaml:"sites"`
	PollInterval             time.Duration `yaml:"poll_interval"`
	BackfillDays             int           `yaml:"backfill_days"`
	BatchLimit               int           `yaml:"batch_limit"`
	MediaSweepInterval       time.Duration `yaml:"media_sweep_interval"`
	RecognitionSweepInterval time.Duration `yaml:"recognition_sweep_interval"`
	SweepBatchSize           int           `yaml:"sweep_batch_size"`
	MetricsPort              int           `yaml:"metrics_port"`
}

type IntelConfig struct {
	RunInterval time.Duration `yaml:"run_interval"`
	PageSize    int           `yaml:"page_size"`
	LockKey     string        `yaml:"lock_key"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	MetricsPort int           `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.MinIO.LinkTTL == 0 {
		cfg.MinIO.LinkTTL = 15 * time.Minute
	}
	if cfg.Hub.Timeout == 0 {
		cfg.Hub.Timeout = 60 * time.Second
	}
	if cfg.Source.PageSize == 0 {
		cfg.Source.PageSize = 100
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}
	if cfg.Matcher.MatchThreshold == 0 {
		cfg.Matcher.MatchThreshold = 0.80
	}
	if cfg.Matcher.AmbiguityMargin == 0 {
		cfg.Matcher.AmbiguityMargin = 0.05
	}
	if cfg.Matcher.MaxCandidates == 0 {
		cfg.Matcher.MaxCandidates = 10
	}
	if cfg.Matcher.Timeout == 0 {
		cfg.Matcher.Timeout = 20 * time.Second
	}
	if cfg.Collector.PollInterval == 0 {
		cfg.Collector.PollInterval = time.Minute
	}
	if cfg.Collector.BackfillDays == 0 {
		cfg.Collector.BackfillDays = 30
	}
	if cfg.Collector.BatchLimit == 0 {
		cfg.Collector.BatchLimit = 100
	}
	if cfg.Collector.MediaSweepInterval == 0 {
		cfg.Collector.MediaSweepInterval = time.Minute
	}
	if cfg.Collector.RecognitionSweepInterval == 0 {
		cfg.Collector.RecognitionSweepInterval = time.Minute
	}
	if cfg.Collector.SweepBatchSize == 0 {
		cfg.Collector.SweepBatchSize = 10
	}
	if cfg.Collector.MetricsPort == 0 {
		cfg.Collector.MetricsPort = 8081
	}
	if cfg.Intel.RunInterval == 0 {
		cfg.Intel.RunInterval = 5 * time.Minute
	}
	if cfg.Intel.PageSize == 0 {
		cfg.Intel.PageSize = 500
	}
	if cfg.Intel.LockKey == "" {
		cfg.Intel.LockKey = "sentinel:intel:leader"
	}
	if cfg.Intel.LockTTL == 0 {
		cfg.Intel.LockTTL = 2 * time.Minute
	}
	if cfg.Intel.MetricsPort == 0 {
		cfg.Intel.MetricsPort = 8082
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SENTINEL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SENTINEL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SENTINEL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SENTINEL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SENTINEL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SENTINEL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SENTINEL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SENTINEL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SENTINEL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SENTINEL_HUB_BASE_URL"); v != "" {
		cfg.Hub.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_HUB_API_KEY"); v != "" {
		cfg.Hub.APIKey = v
	}
	if v := os.Getenv("SENTINEL_SOURCE_USERNAME"); v != "" {
		cfg.Source.Username = v
	}
	if v := os.Getenv("SENTINEL_SOURCE_PASSWORD"); v != "" {
		cfg.Source.Password = v
	}
	if v := os.Getenv("SENTINEL_SOURCE_USER_KEY"); v != "" {
		cfg.Source.UserKey = v
	}
	if v := os.Getenv("SENTINEL_MATCHER_BASE_URL"); v != "" {
		cfg.Matcher.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_MATCHER_API_KEY"); v != "" {
		cfg.Matcher.APIKey = v
	}
	if v := os.Getenv("SENTINEL_MATCHER_COLLECTION"); v != "" {
		cfg.Matcher.CollectionID = v
	}
}

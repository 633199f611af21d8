package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string     `mapstructure:"PORT"`
	Environment string     `mapstructure:"ENVIRONMENT"`
	LogLevelRaw string     `mapstructure:"LOG_LEVEL"`
	LogLevel    slog.Level `mapstructure:"-"`

	Database DatabaseConfig `mapstructure:",squash"`
	RedisURL string         `mapstructure:"REDIS_URL"`
	Casdoor  CasdoorConfig  `mapstructure:",squash"`
	Kafka    KafkaConfig    `mapstructure:",squash"`
	Engine   EngineConfig   `mapstructure:",squash"`

	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"DATABASE_URL"`
	Host     string `mapstructure:"DB_HOST"`
	Port     int    `mapstructure:"DB_PORT"`
	User     string `mapstructure:"DB_USER"`
	Password string `mapstructure:"DB_PASSWORD"`
	Name     string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"DB_SSLMODE"`

	MaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `mapstructure:"DB_AUTO_MIGRATE"`
}

// DSN prefers DATABASE_URL and otherwise assembles a keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type CasdoorConfig struct {
	Endpoint     string `mapstructure:"CASDOOR_ENDPOINT"`
	ClientID     string `mapstructure:"CASDOOR_CLIENT_ID"`
	ClientSecret string `mapstructure:"CASDOOR_CLIENT_SECRET"`
	Cert         string `mapstructure:"CASDOOR_CERT"`
	Organization string `mapstructure:"CASDOOR_ORGANIZATION"`
	Application  string `mapstructure:"CASDOOR_APPLICATION"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"KAFKA_ENABLED"`
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"KAFKA_ATTEMPT_TOPIC"`
}

type EngineConfig struct {
	AutosaveInterval    time.Duration `mapstructure:"AUTOSAVE_INTERVAL"`
	TickInterval        time.Duration `mapstructure:"TIMER_TICK_INTERVAL"`
	SubmitRetryInterval time.Duration `mapstructure:"SUBMIT_RETRY_INTERVAL"`
	AnswerGracePeriod   time.Duration `mapstructure:"ANSWER_GRACE_PERIOD"`
	ExamCacheTTL        time.Duration `mapstructure:"EXAM_CACHE_TTL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "exam_attempts")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_URL", "")

	v.SetDefault("CASDOOR_ENDPOINT", "")
	v.SetDefault("CASDOOR_CLIENT_ID", "")
	v.SetDefault("CASDOOR_CLIENT_SECRET", "")
	v.SetDefault("CASDOOR_CERT", "")
	v.SetDefault("CASDOOR_ORGANIZATION", "")
	v.SetDefault("CASDOOR_APPLICATION", "")

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA_ATTEMPT_TOPIC", "exam.attempts")

	v.SetDefault("AUTOSAVE_INTERVAL", 10*time.Second)
	v.SetDefault("TIMER_TICK_INTERVAL", time.Second)
	v.SetDefault("SUBMIT_RETRY_INTERVAL", 3*time.Second)
	v.SetDefault("ANSWER_GRACE_PERIOD", 30*time.Second)
	v.SetDefault("EXAM_CACHE_TTL", 10*time.Minute)

	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma separated lists arrive from the environment as a single element.
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.CORSAllowedOrigins = splitList(cfg.CORSAllowedOrigins)

	level, err := parseLogLevel(cfg.LogLevelRaw)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.Engine.AutosaveInterval <= 0 {
		errs = append(errs, errors.New("AUTOSAVE_INTERVAL must be positive"))
	}
	if c.Engine.TickInterval <= 0 {
		errs = append(errs, errors.New("TIMER_TICK_INTERVAL must be positive"))
	}
	if c.Engine.SubmitRetryInterval <= 0 {
		errs = append(errs, errors.New("SUBMIT_RETRY_INTERVAL must be positive"))
	}
	if c.Engine.AnswerGracePeriod < 0 {
		errs = append(errs, errors.New("ANSWER_GRACE_PERIOD must not be negative"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
	}
	return level, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

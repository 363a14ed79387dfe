package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

// ConnString returns the postgres URL used by both the pool and the migrator.
func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents string `mapstructure:"payment-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type Outbox struct {
	Enabled            bool `mapstructure:"enabled"`
	PollingIntervalMs  int  `mapstructure:"polling-interval-ms"`
	FetchSize          int  `mapstructure:"fetch-size"`
	RescheduleDelayMs  int  `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int  `mapstructure:"max-publish-attempts"`
}

type Payments struct {
	// UniqueCheckoutRequestID rejects a second success callback for the same checkout request.
	UniqueCheckoutRequestID bool `mapstructure:"unique-checkout-request-id"`
}

type Server struct {
	Port         string   `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow-origins"`
	AuthSecret   string   `mapstructure:"auth-secret"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Server   Server   `mapstructure:"server"`
	Payments Payments `mapstructure:"payments"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

var defaults = map[string]any{
	"database.user":                       "postgres",
	"database.password":                   "postgres",
	"database.name":                       "payments",
	"database.host":                       "localhost",
	"database.port":                       "5432",
	"database.ssl-mode":                   "disable",
	"server.port":                         "8080",
	"server.allow-origins":                []string{"*"},
	"server.auth-secret":                  "",
	"payments.unique-checkout-request-id": false,
	"kafka.broker.url":                    "localhost:9092",
	"kafka.topic.payment-events":          "payment-events",
	"kafka.writer.batch-size":             100,
	"kafka.writer.batch-timeout-ms":       100,
	"outbox.enabled":                      false,
	"outbox.polling-interval-ms":          500,
	"outbox.fetch-size":                   200,
	"outbox.reschedule-delay-ms":          10_000,
	"outbox.max-publish-attempts":         3,
	"metrics.url":                         "",
	"metrics.interval-ms":                 10_000,
	"metrics.common-labels":               "",
	"logs.url":                            "",
	"logs.level":                          "info",
}

// LoadConfig reads config.yaml from path when it exists and lets environment
// variables override any key, e.g. DATABASE_HOST or OUTBOX_FETCH_SIZE.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "loading .env")
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	return config
}

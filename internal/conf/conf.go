package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/devricklin/feishu-messenger/internal/pipeline"
)

// Config represents application configuration
type Config struct {
	// Feishu app credentials
	FeishuAppID     string `envconfig:"FEISHU_APP_ID" validate:"required"`
	FeishuAppSecret string `envconfig:"FEISHU_APP_SECRET" validate:"required"`
	FeishuBotName   string `envconfig:"FEISHU_BOT_NAME"` // learned from the bot info when empty
	FeishuBaseURL   string `envconfig:"FEISHU_BASE_URL" validate:"omitempty,url"`

	// Database
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite" validate:"oneof=sqlite postgres"`
	DBPath   string `envconfig:"DB_PATH"`
	DBDSN    string `envconfig:"DB_DSN" validate:"required_if=DBDriver postgres"`

	// Outbox retry policy
	OutboxRetryLimit    int           `envconfig:"OUTBOX_RETRY_LIMIT" default:"5" validate:"gte=0"`
	OutboxRetryBackoff  time.Duration `envconfig:"OUTBOX_RETRY_BACKOFF" default:"2s" validate:"gte=0"`
	OutboxAPIErrorPause time.Duration `envconfig:"OUTBOX_API_ERROR_PAUSE" default:"3s" validate:"gte=0"`

	// Event export, disabled when AMQPURL is empty
	AMQPURL      string `envconfig:"AMQP_URL" validate:"omitempty,url"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"feishu.messenger"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	Env      string `envconfig:"APP_ENV" default:"production"`
}

// Load reads .env when present, then the environment, and validates the result
func Load() (*Config, error) {
	// A missing .env is fine, the environment may be set already
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.DBPath = filepath.Join(homeDir, ".feishu-messenger", "messenger.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ToOutputConfig converts to the output processor retry policy
func (c *Config) ToOutputConfig() pipeline.OutputConfig {
	return pipeline.OutputConfig{
		RetryLimit:    c.OutboxRetryLimit,
		RetryBackoff:  c.OutboxRetryBackoff,
		APIErrorPause: c.OutboxAPIErrorPause,
	}
}

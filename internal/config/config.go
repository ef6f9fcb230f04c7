package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN,required"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`

	// Storage
	DataDir     string `env:"DATA_DIR" envDefault:"data/conversations"`
	TitleMaxLen int    `env:"TITLE_MAX_LEN" envDefault:"48"`

	// Save retries
	SaveRetryAttempts int           `env:"SAVE_RETRY_ATTEMPTS" envDefault:"3"`
	SaveRetryBase     time.Duration `env:"SAVE_RETRY_BASE" envDefault:"1s"`

	// Nightly index verification (UTC cron spec)
	IndexCheckCron string `env:"INDEX_CHECK_CRON" envDefault:"0 4 * * *"`

	// Formatting
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:"HTML"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

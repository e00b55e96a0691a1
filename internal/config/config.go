// Package config содержит логику чтения конфигурации сервиса отслеживания заказов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress      = "localhost:8080"
	defaultKafkaTopic      = "order-status"
	defaultRefreshInterval = 30 * time.Second
	defaultRequestTimeout  = 10 * time.Second
)

// Config содержит параметры конфигурации сервиса отслеживания заказов.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	OrderServiceAddress string        `env:"ORDER_SERVICE_ADDRESS"`
	OrderServiceToken   string        `env:"ORDER_SERVICE_TOKEN"`
	JWTSecret           string        `env:"JWT_SECRET"`
	RedisAddr           string        `env:"REDIS_ADDR"`
	KafkaBrokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic          string        `env:"KAFKA_TOPIC"`
	RefreshInterval     time.Duration `env:"REFRESH_INTERVAL"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	var brokers string
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.OrderServiceAddress, "o", "", "order service address")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for bearer token signatures")
	flag.StringVar(&brokers, "k", "", "comma separated kafka brokers")
	flag.DurationVar(&cfg.RefreshInterval, "i", defaultRefreshInterval, "background refresh interval, 0 disables")

	flag.Parse()

	if brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.OrderServiceAddress != "" {
		cfg.OrderServiceAddress = fromEnv.OrderServiceAddress
	}
	if fromEnv.JWTSecret != "" {
		cfg.JWTSecret = fromEnv.JWTSecret
	}
	if len(fromEnv.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fromEnv.KafkaBrokers
	}
	if fromEnv.RefreshInterval != 0 {
		cfg.RefreshInterval = fromEnv.RefreshInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = defaultKafkaTopic
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.OrderServiceAddress == "" {
		return nil, fmt.Errorf("order service address is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App: AppConfig{Environment: "test"},
		Exchange: ExchangeConfig{
			Name: "binanceusdm",
			Retry: RetryConfig{
				MaxAttempts: 3,
				MinDelay:    100 * time.Millisecond,
				MaxDelay:    time.Second,
			},
		},
		Strategy: StrategyConfig{
			Grid: GridConfig{
				PollInterval: 5 * time.Second,
				ErrorBackoff: 10 * time.Second,
			},
			Bracket: BracketConfig{MinNotional: 100},
			Price:   PriceConfig{BaseDeviation: 0.02},
		},
		Database: DatabaseConfig{
			Path:         "data/orders.db",
			MaxOpenConns: 4,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "console",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error for valid config: %v", err)
	}
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing exchange name",
			mutate: func(c *Config) { c.Exchange.Name = "" },
			want:   "exchange.name",
		},
		{
			name:   "inverted retry delays",
			mutate: func(c *Config) { c.Exchange.Retry.MinDelay = 2 * time.Second },
			want:   "min_delay",
		},
		{
			name:   "zero poll interval",
			mutate: func(c *Config) { c.Strategy.Grid.PollInterval = 0 },
			want:   "poll_interval",
		},
		{
			name:   "backoff shorter than poll",
			mutate: func(c *Config) { c.Strategy.Grid.ErrorBackoff = time.Second },
			want:   "error_backoff",
		},
		{
			name:   "deviation out of range",
			mutate: func(c *Config) { c.Strategy.Price.BaseDeviation = 0.6 },
			want:   "base_deviation",
		},
		{
			name:   "missing database path",
			mutate: func(c *Config) { c.Database.Path = "" },
			want:   "database.path",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestValidate_InMemoryDatabaseNeedsNoPath(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = ""
	cfg.Database.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("in-memory database should not require a path, got %v", err)
	}
}

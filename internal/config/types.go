package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseTestnet bool        `mapstructure:"use_testnet"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制交易所调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StrategyConfig 控制各执行策略的节奏参数。
type StrategyConfig struct {
	Grid    GridConfig    `mapstructure:"grid"`
	Bracket BracketConfig `mapstructure:"bracket"`
	Price   PriceConfig   `mapstructure:"price"`
}

// GridConfig 控制网格监控循环。
type GridConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// BracketConfig 控制双腿保护单。
type BracketConfig struct {
	// MinNotional 为交易所未返回 MIN_NOTIONAL 过滤器时的兜底值。
	MinNotional float64 `mapstructure:"min_notional"`
}

// PriceConfig 控制自动报价的偏移参数。
type PriceConfig struct {
	BaseDeviation float64 `mapstructure:"base_deviation"`
}

// DatabaseConfig 管理订单流水数据库。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Strategy.Grid.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("strategy.grid.poll_interval 必须大于0"))
	}
	if c.Strategy.Grid.ErrorBackoff < c.Strategy.Grid.PollInterval {
		err = multierr.Append(err, errors.New("strategy.grid.error_backoff 不应小于 poll_interval"))
	}
	if c.Strategy.Bracket.MinNotional <= 0 {
		err = multierr.Append(err, errors.New("strategy.bracket.min_notional 必须大于0"))
	}
	if c.Strategy.Price.BaseDeviation <= 0 || c.Strategy.Price.BaseDeviation >= 0.5 {
		err = multierr.Append(err, errors.New("strategy.price.base_deviation 应位于(0,0.5)"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

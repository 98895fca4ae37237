package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"futures-trader/internal/order"
)

// Config 聚合系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	TWAP     TWAPConfig     `mapstructure:"twap"`
	OCO      OCOConfig      `mapstructure:"oco"`
	Grid     GridConfig     `mapstructure:"grid"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// GatewayConfig 描述交易所连接信息。凭证从 .env 注入，
// 不允许出现在日志或错误信息中。
type GatewayConfig struct {
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	BaseURL    string      `mapstructure:"base_url"`
	UseTestnet bool        `mapstructure:"use_testnet"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制网关重试。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LimitsConfig 描述订单域约束。
type LimitsConfig struct {
	Symbols     []string `mapstructure:"symbols"`
	MinQuantity float64  `mapstructure:"min_quantity"`
	MaxQuantity float64  `mapstructure:"max_quantity"`
	MinPrice    float64  `mapstructure:"min_price"`
	MaxPrice    float64  `mapstructure:"max_price"`
}

// TWAPConfig 控制时间加权拆单策略。
type TWAPConfig struct {
	MaxSliceFailures int `mapstructure:"max_slice_failures"`
}

// OCOConfig 控制 OCO 协调器。
type OCOConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// GridConfig 控制网格引擎。
type GridConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DatabaseConfig 管理会话历史数据库。
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

// OrderLimits 将配置转换为校验器约束。
func (c *Config) OrderLimits() order.Limits {
	limits := order.DefaultLimits()
	if len(c.Limits.Symbols) > 0 {
		symbols := make(map[string]struct{}, len(c.Limits.Symbols))
		for _, s := range c.Limits.Symbols {
			symbols[s] = struct{}{}
		}
		limits.Symbols = symbols
	}
	if c.Limits.MinQuantity > 0 {
		limits.MinQuantity = c.Limits.MinQuantity
	}
	if c.Limits.MaxQuantity > 0 {
		limits.MaxQuantity = c.Limits.MaxQuantity
	}
	if c.Limits.MinPrice > 0 {
		limits.MinPrice = c.Limits.MinPrice
	}
	if c.Limits.MaxPrice > 0 {
		limits.MaxPrice = c.Limits.MaxPrice
	}
	return limits
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Gateway.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry.max_attempts 必须大于0"))
	}
	if c.Gateway.Retry.MinDelay <= 0 || c.Gateway.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry.delay 必须为正"))
	}
	if c.Gateway.Retry.MinDelay > c.Gateway.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("gateway.retry.min_delay 不能大于 max_delay"))
	}
	if len(c.Limits.Symbols) == 0 {
		err = multierr.Append(err, errors.New("limits.symbols 至少包含一个交易对"))
	}
	if c.Limits.MinQuantity <= 0 {
		err = multierr.Append(err, errors.New("limits.min_quantity 必须大于0"))
	}
	if c.Limits.MaxQuantity <= c.Limits.MinQuantity {
		err = multierr.Append(err, errors.New("limits.max_quantity 必须大于 min_quantity"))
	}
	if c.Limits.MinPrice <= 0 {
		err = multierr.Append(err, errors.New("limits.min_price 必须大于0"))
	}
	if c.Limits.MaxPrice <= c.Limits.MinPrice {
		err = multierr.Append(err, errors.New("limits.max_price 必须大于 min_price"))
	}
	if c.TWAP.MaxSliceFailures <= 0 {
		err = multierr.Append(err, errors.New("twap.max_slice_failures 必须大于0"))
	}
	if c.OCO.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("oco.poll_interval 必须大于0"))
	}
	if c.Grid.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("grid.poll_interval 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
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

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"futures-trader/internal/order"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trader"
)

// Load 读取配置文件并结合环境变量返回 Config。
// .env 中的交易所凭证在读取配置前注入进程环境。
func Load(path string) (*Config, error) {
	// .env 不存在时静默跳过，凭证缺失只影响实盘网关。
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyEnvCredentials(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnvCredentials(cfg *Config) {
	if key := os.Getenv("BINANCE_API_KEY"); key != "" {
		cfg.Gateway.APIKey = key
	}
	if secret := os.Getenv("BINANCE_API_SECRET"); secret != "" {
		cfg.Gateway.APISecret = secret
	}
	if base := os.Getenv("BINANCE_BASE_URL"); base != "" {
		cfg.Gateway.BaseURL = base
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("gateway.use_testnet", false)
	v.SetDefault("gateway.retry.max_attempts", 5)
	v.SetDefault("gateway.retry.min_delay", "500ms")
	v.SetDefault("gateway.retry.max_delay", "5s")

	v.SetDefault("limits.symbols", order.DefaultSymbols)
	v.SetDefault("limits.min_quantity", 0.001)
	v.SetDefault("limits.max_quantity", 1000000.0)
	v.SetDefault("limits.min_price", 0.00001)
	v.SetDefault("limits.max_price", 999999.0)

	v.SetDefault("twap.max_slice_failures", 3)
	v.SetDefault("oco.poll_interval", "500ms")
	v.SetDefault("grid.poll_interval", "500ms")

	v.SetDefault("database.path", "data/futures_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

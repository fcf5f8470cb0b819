package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ServiceName    = "grid-bot"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

// EnvConfig holds the flat key-value configuration of the bot. Keys come
// from an .env style file and may be overridden by process environment
// variables of the same name.
type EnvConfig struct {
	Env                     string        `mapstructure:"env"`
	LogLevel                string        `mapstructure:"log_level"`
	LogShowCaller           bool          `mapstructure:"log_show_caller"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`

	BybitAPIKey     string `mapstructure:"bybit_api_key"`
	BybitAPISecret  string `mapstructure:"bybit_api_secret"`
	BybitRecvWindow int64  `mapstructure:"bybit_recv_window"`
	BybitBaseURL    string `mapstructure:"bybit_base_url"`
	BybitWSURL      string `mapstructure:"bybit_ws_url"`

	Symbol string          `mapstructure:"symbol"`
	Low    decimal.Decimal `mapstructure:"low"`
	High   decimal.Decimal `mapstructure:"high"`
	Grids  int             `mapstructure:"grids"`
	Qty    decimal.Decimal `mapstructure:"qty"`

	Database DatabaseConfig `mapstructure:",squash"`
	RedisDSN string         `mapstructure:"redis_dsn"`
	Nats     NatsConfig     `mapstructure:",squash"`
	HTTPPort string         `mapstructure:"http_port"`

	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"database_dsn"`
	PingInterval    time.Duration `mapstructure:"database_ping_interval"`
	ReconnectFactor float64       `mapstructure:"database_reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"database_min_jitter"`
	MaxJitter       time.Duration `mapstructure:"database_max_jitter"`
	MaxRetry        int           `mapstructure:"database_max_retry"`
	MaxIdleConns    int           `mapstructure:"database_max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"database_max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"database_max_conn_lifetime"`
}

type NatsConfig struct {
	URL             string        `mapstructure:"nats_url"`
	MaxRetries      int           `mapstructure:"nats_max_retries"`
	ReconnectFactor float64       `mapstructure:"nats_reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"nats_min_jitter"`
	MaxJitter       time.Duration `mapstructure:"nats_max_jitter"`
	HandlerTimeout  time.Duration `mapstructure:"nats_handler_timeout"`
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_show_caller", false)
	viper.SetDefault("graceful_shutdown_timeout", "10s")

	// keys without real defaults still need to be registered so that
	// AutomaticEnv values survive Unmarshal
	viper.SetDefault("bybit_api_key", "")
	viper.SetDefault("bybit_api_secret", "")
	viper.SetDefault("database_dsn", "")
	viper.SetDefault("redis_dsn", "")
	viper.SetDefault("nats_url", "")
	viper.SetDefault("database_reconnect_factor", 2.0)
	viper.SetDefault("database_min_jitter", "100ms")
	viper.SetDefault("database_max_jitter", "1s")
	viper.SetDefault("database_max_idle_conns", 10)
	viper.SetDefault("database_max_active_conns", 20)
	viper.SetDefault("database_max_conn_lifetime", "1h")
	viper.SetDefault("nats_reconnect_factor", 2.0)
	viper.SetDefault("nats_min_jitter", "100ms")
	viper.SetDefault("nats_max_jitter", "2s")

	viper.SetDefault("bybit_recv_window", 5000)
	viper.SetDefault("bybit_base_url", "https://api.bybit.com")
	viper.SetDefault("bybit_ws_url", "wss://stream.bybit.com/v5/private")

	viper.SetDefault("symbol", "BTCUSDT")
	viper.SetDefault("low", "28000")
	viper.SetDefault("high", "32000")
	viper.SetDefault("grids", 20)
	viper.SetDefault("qty", "0.001")

	viper.SetDefault("database_ping_interval", "5s")
	viper.SetDefault("database_max_retry", 10)

	viper.SetDefault("nats_max_retries", 10)
	viper.SetDefault("nats_handler_timeout", "5s")

	viper.SetDefault("http_port", "8080")
	viper.SetDefault("stats_interval", "1m")
}

// LoadConfig reads the .env style config file at configPath (default ./.env)
// and merges process environment variables on top of it. A missing config
// file is not an error: the compose layer injects everything through the
// environment.
func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		configPath = ".env"
	}

	setDefaults()

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("env")

		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&Env, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

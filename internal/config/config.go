package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Cron        CronConfig        `mapstructure:"cron"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Pairs       PairsConfig       `mapstructure:"pairs"`
	Routing     RoutingConfig     `mapstructure:"routing"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Display     DisplayConfig     `mapstructure:"display"`
	Chart       ChartConfig       `mapstructure:"chart"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Purge     string `mapstructure:"purge"`
	Redeliver string `mapstructure:"redeliver"`
}

type IngestConfig struct {
	SharedSecret string `mapstructure:"shared_secret"`
}

type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	DefaultChatID string        `mapstructure:"default_chat_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type PairsConfig struct {
	Default []string `mapstructure:"default"`
}

type RoutingConfig struct {
	SymbolMap    map[string]string `mapstructure:"symbol_map"`
	TimeframeMap map[string]string `mapstructure:"timeframe_map"`
}

type DeliveryConfig struct {
	MaxAttempts int             `mapstructure:"max_attempts"`
	RetryDelays []time.Duration `mapstructure:"retry_delays"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type DisplayConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ChartConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.purge", "@every 10m")
	v.SetDefault("cron.redeliver", "@every 30s")
	v.SetDefault("ingest.shared_secret", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.default_chat_id", "")
	v.SetDefault("telegram.timeout", "30s")
	v.SetDefault("pairs.default", []string{"BTCUSDT", "ETHUSDT", "ETHBTC", "ADAUSDT"})
	v.SetDefault("routing.symbol_map", map[string]string{})
	v.SetDefault("routing.timeframe_map", map[string]string{})
	v.SetDefault("delivery.max_attempts", 4)
	v.SetDefault("delivery.retry_delays", []string{"1s", "2s", "4s"})
	v.SetDefault("idempotency.ttl", "168h")
	v.SetDefault("display.timezone", "Europe/London")
	v.SetDefault("chart.base_url", "https://tradingview.com/chart/")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

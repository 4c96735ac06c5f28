package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	State     StateConfig     `yaml:"state"`
	Engine    EngineConfig    `yaml:"engine"`
	Providers ProvidersConfig `yaml:"providers"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	EnvFile   string          `yaml:"env_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// EngineConfig holds loop pacing. Trading knobs live in the runtime
// settings file so they can change while the process runs.
type EngineConfig struct {
	ScanYield    time.Duration `yaml:"scan_yield"`
	PassInterval time.Duration `yaml:"pass_interval"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	BuyTimeout   time.Duration `yaml:"buy_timeout"`
	TradesLimit  int           `yaml:"trades_limit"`
	Strategies   []string      `yaml:"strategies"`
	EventBuffer  int           `yaml:"event_buffer"`
	BuyRetries   int           `yaml:"buy_retries"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ProvidersConfig struct {
	OpenSea       ProviderConfig `yaml:"opensea"`
	Moralis       ProviderConfig `yaml:"moralis"`
	CoinGecko     ProviderConfig `yaml:"coingecko"`
	OpenSeaStream StreamConfig   `yaml:"opensea_stream"`
}

// StreamConfig controls the marketplace listing stream. The API key is
// read from the runtime settings.
type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type TimescaleConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DSN          string        `yaml:"dsn"`
	Schema       string        `yaml:"schema"`
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a config usable without a YAML file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BOT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_ENABLED")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Telegram.Enabled = enabled
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/nft-sniper-bot.db"
	}
	if cfg.EnvFile == "" {
		cfg.EnvFile = ".env"
	}
	if cfg.Engine.ScanYield == 0 {
		cfg.Engine.ScanYield = 200 * time.Millisecond
	}
	if cfg.Engine.PassInterval == 0 {
		cfg.Engine.PassInterval = 2 * time.Second
	}
	if cfg.Engine.CallTimeout == 0 {
		cfg.Engine.CallTimeout = 10 * time.Second
	}
	if cfg.Engine.BuyTimeout == 0 {
		cfg.Engine.BuyTimeout = 60 * time.Second
	}
	if cfg.Engine.TradesLimit == 0 {
		cfg.Engine.TradesLimit = 50
	}
	if len(cfg.Engine.Strategies) == 0 {
		cfg.Engine.Strategies = []string{"undercut", "mean_revert", "momentum", "hybrid"}
	}
	if cfg.Engine.EventBuffer == 0 {
		cfg.Engine.EventBuffer = 5000
	}
	if cfg.Engine.BuyRetries == 0 {
		cfg.Engine.BuyRetries = 2
	}
	if cfg.Providers.OpenSea.BaseURL == "" {
		cfg.Providers.OpenSea.BaseURL = "https://api.opensea.io/api/v2"
	}
	if cfg.Providers.OpenSea.Timeout == 0 {
		cfg.Providers.OpenSea.Timeout = 20 * time.Second
	}
	if cfg.Providers.Moralis.BaseURL == "" {
		cfg.Providers.Moralis.BaseURL = "https://deep-index.moralis.io/api/v2"
	}
	if cfg.Providers.Moralis.Timeout == 0 {
		cfg.Providers.Moralis.Timeout = 10 * time.Second
	}
	if cfg.Providers.CoinGecko.BaseURL == "" {
		cfg.Providers.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Providers.CoinGecko.Timeout == 0 {
		cfg.Providers.CoinGecko.Timeout = 8 * time.Second
	}
	if cfg.Providers.OpenSeaStream.URL == "" {
		cfg.Providers.OpenSeaStream.URL = "wss://stream.openseabeta.com/socket/websocket"
	}
	if cfg.Providers.OpenSeaStream.ReconnectDelay == 0 {
		cfg.Providers.OpenSeaStream.ReconnectDelay = 5 * time.Second
	}
	if cfg.Providers.OpenSeaStream.PingInterval == 0 {
		cfg.Providers.OpenSeaStream.PingInterval = 30 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 1024
	}
	if cfg.Timescale.WriteTimeout == 0 {
		cfg.Timescale.WriteTimeout = 3 * time.Second
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Engine.TradesLimit < 0 {
		return errors.New("engine.trades_limit must be >= 0")
	}
	if cfg.Engine.ScanYield < 0 || cfg.Engine.PassInterval < 0 {
		return errors.New("engine intervals must be >= 0")
	}
	if cfg.Engine.CallTimeout < 0 || cfg.Engine.BuyTimeout < 0 {
		return errors.New("engine timeouts must be >= 0")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	for _, name := range cfg.Engine.Strategies {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("engine.strategies contains an empty name")
		}
	}
	return nil
}

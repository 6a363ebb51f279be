package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"smc-trading-engine/internal/api"
	"smc-trading-engine/internal/auth"
	"smc-trading-engine/internal/cache"
	"smc-trading-engine/internal/database"
	"smc-trading-engine/internal/engine"
	"smc-trading-engine/internal/hedging"
	"smc-trading-engine/internal/monitor"
	"smc-trading-engine/internal/notification"
	"smc-trading-engine/internal/risk"
	"smc-trading-engine/internal/vault"
)

// Config aggregates every component configuration. Values load from
// config.json first, environment variables override.
type Config struct {
	Exchange     ExchangeConfig     `json:"exchange"`
	Engine       engine.Config      `json:"engine"`
	Strategies   []engine.Strategy  `json:"strategies"`
	Risk         RiskConfig         `json:"risk"`
	Monitor      monitor.Config     `json:"monitor"`
	Hedging      hedging.Config     `json:"hedging"`
	AltData      AltDataConfig      `json:"altdata"`
	Database     DatabaseConfig     `json:"database"`
	Cache        cache.Config       `json:"cache"`
	Notification NotificationConfig `json:"notification"`
	Auth         AuthConfig         `json:"auth"`
	Vault        vault.Config       `json:"vault"`
	Server       api.ServerConfig   `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
}

// ExchangeConfig holds exchange connectivity settings. MockMode replaces the
// HTTP client with the simulated exchange.
type ExchangeConfig struct {
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	Testnet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"`
}

// RiskConfig wraps the risk manager settings with the starting balance.
type RiskConfig struct {
	risk.Config
	InitialBalance float64 `json:"initial_balance"`
}

// AltDataConfig toggles the alternative data overlay.
type AltDataConfig struct {
	Enabled bool `json:"enabled"`
}

// DatabaseConfig wraps the PostgreSQL settings with an enable toggle;
// the engine runs without persistence when disabled.
type DatabaseConfig struct {
	database.Config
	Enabled bool `json:"enabled"`
}

// NotificationConfig holds the outbound notifier settings.
type NotificationConfig struct {
	Enabled  bool                        `json:"enabled"`
	Telegram notification.TelegramConfig `json:"telegram"`
	Discord  notification.DiscordConfig  `json:"discord"`
}

// AuthConfig wraps operator auth settings with an enable toggle.
type AuthConfig struct {
	auth.Config
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// Load reads config.json when present and applies environment overrides.
func Load() (*Config, error) {
	return LoadFromFile("config.json")
}

// LoadFromFile reads the given file when present and applies environment
// overrides. A missing file is not an error; overrides alone can carry a
// full deployment.
func LoadFromFile(filename string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(filename)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", filename, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error reading config file %s: %w", filename, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:      "binance",
			BaseURL:   "https://api.binance.com",
			StreamURL: "wss://stream.binance.com:9443",
		},
		Engine: engine.DefaultConfig(),
		Risk: RiskConfig{
			Config: risk.Config{
				MaxRiskPerTrade:      1.0,
				MaxDailyLoss:         5.0,
				MaxPositions:         5,
				RiskRewardRatio:      1.5,
				PositionSizingMethod: risk.SizingPercentage,
			},
			InitialBalance: 10_000,
		},
		Monitor: monitor.DefaultConfig(),
		Hedging: hedging.DefaultConfig(),
		AltData: AltDataConfig{Enabled: true},
		Database: DatabaseConfig{
			Config: database.Config{
				Host:     "localhost",
				Port:     5432,
				User:     "trading",
				Database: "trading",
				SSLMode:  "disable",
			},
		},
		Cache: cache.Config{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Auth:    AuthConfig{Config: auth.DefaultConfig()},
		Vault:   vault.DefaultConfig(),
		Server:  api.DefaultServerConfig(),
		Logging: LoggingConfig{Level: "info", JSONFormat: true},
	}
}

func applyEnvOverrides(cfg *Config) {
	// Exchange
	cfg.Exchange.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", cfg.Exchange.SecretKey)
	cfg.Exchange.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.StreamURL = getEnvOrDefault("EXCHANGE_STREAM_URL", cfg.Exchange.StreamURL)
	cfg.Exchange.Testnet = getEnvBoolOrDefault("EXCHANGE_TESTNET", cfg.Exchange.Testnet)
	cfg.Exchange.MockMode = getEnvBoolOrDefault("EXCHANGE_MOCK_MODE", cfg.Exchange.MockMode)

	// Engine
	cfg.Engine.AnalysisInterval = getEnvDurationOrDefault("ENGINE_ANALYSIS_INTERVAL", cfg.Engine.AnalysisInterval)
	cfg.Engine.PositionInterval = getEnvDurationOrDefault("ENGINE_POSITION_INTERVAL", cfg.Engine.PositionInterval)
	cfg.Engine.CandleLimit = getEnvIntOrDefault("ENGINE_CANDLE_LIMIT", cfg.Engine.CandleLimit)
	cfg.Engine.TWAPNotional = getEnvFloatOrDefault("ENGINE_TWAP_NOTIONAL", cfg.Engine.TWAPNotional)

	// Risk
	cfg.Risk.MaxRiskPerTrade = getEnvFloatOrDefault("RISK_MAX_PER_TRADE", cfg.Risk.MaxRiskPerTrade)
	cfg.Risk.MaxDailyLoss = getEnvFloatOrDefault("RISK_MAX_DAILY_LOSS", cfg.Risk.MaxDailyLoss)
	cfg.Risk.MaxPositions = getEnvIntOrDefault("RISK_MAX_POSITIONS", cfg.Risk.MaxPositions)
	cfg.Risk.PositionSizingMethod = getEnvOrDefault("RISK_SIZING_METHOD", cfg.Risk.PositionSizingMethod)
	cfg.Risk.InitialBalance = getEnvFloatOrDefault("RISK_INITIAL_BALANCE", cfg.Risk.InitialBalance)

	// Hedging
	cfg.Hedging.Enabled = getEnvBoolOrDefault("HEDGING_ENABLED", cfg.Hedging.Enabled)
	cfg.Hedging.HedgeSymbol = getEnvOrDefault("HEDGING_SYMBOL", cfg.Hedging.HedgeSymbol)
	cfg.Hedging.MaxDeltaExposure = getEnvFloatOrDefault("HEDGING_MAX_DELTA", cfg.Hedging.MaxDeltaExposure)

	// Alternative data
	cfg.AltData.Enabled = getEnvBoolOrDefault("ALTDATA_ENABLED", cfg.AltData.Enabled)

	// Database
	cfg.Database.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DATABASE_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DATABASE_SSL_MODE", cfg.Database.SSLMode)

	// Cache
	cfg.Cache.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Cache.Address)
	cfg.Cache.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Cache.Password)
	cfg.Cache.DB = getEnvIntOrDefault("REDIS_DB", cfg.Cache.DB)

	// Notifications
	cfg.Notification.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.Notification.Enabled)
	cfg.Notification.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.Notification.Telegram.Enabled)
	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)
	cfg.Notification.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.Notification.Discord.Enabled)
	cfg.Notification.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.Discord.WebhookURL)

	// Auth
	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.Secret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.Secret)
	cfg.Auth.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.Auth.PasswordHash)
	cfg.Auth.TokenTTL = getEnvDurationOrDefault("AUTH_TOKEN_TTL", cfg.Auth.TokenTTL)

	// Vault
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	// Server
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ProductionMode = getEnvBoolOrDefault("SERVER_PRODUCTION_MODE", cfg.Server.ProductionMode)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a starter configuration file.
func GenerateSampleConfig(filename string) error {
	cfg := defaults()
	cfg.Exchange.MockMode = true
	cfg.Strategies = []engine.Strategy{
		{Name: "smc-btc-1h", Symbol: "BTCUSDT", Timeframe: "1h", Enabled: true},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flipperBot/internal/adapters/logger"
	"flipperBot/internal/sizing"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey       string
	SecretKey    string
	IsTestnet    bool
	PaperMode    bool    // Simulate fills locally instead of submitting real orders
	PaperBalance float64 // Starting quote balance in paper mode

	// Symbols
	Symbols    []string // Symbols to track and trade at startup
	QuoteAsset string   // Asset balances and notionals are measured in

	// Pair defaults applied when bootstrapping symbols without a stored pair
	DefaultLeverage    int
	DefaultCooldownSec int

	// Strategy
	KlineInterval string // Candle interval evaluated for entry signals
	KlineHistory  int    // Candles preloaded before streaming

	// Engine timings
	TransitionalTimeout  time.Duration // Transitional state age before a forced reconcile
	StaleIntentTTL       time.Duration // Outstanding order age before cancellation
	HousekeepingInterval time.Duration // Worker timer sweep period
	SubmitTimeout        time.Duration // Per-submission deadline

	// Reconciliation
	ReconcileInterval time.Duration
	ReconcileTimeout  time.Duration

	// Risk limits
	MaxPositionSize float64 // Base-asset cap per open, 0 disables
	MaxNotional     float64 // Quote-asset cap per open, 0 disables
	MaxLeverage     int

	// Sizing
	SizingMode    sizing.Mode
	SizingValue   float64 // Percent or quote amount depending on mode
	SizingReserve float64 // Quote amount always held back
	SizingCap     float64 // Quote-asset margin ceiling, 0 disables

	// Exit defaults (overridable per pair)
	TakeProfitPct       float64
	StopLossPct         float64
	BreakEvenTriggerPct float64
	BreakEvenOffsetPct  float64
	MaxHold             time.Duration // 0 disables the time stop

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "std" or "zap"

	// Control surface
	ControlListenAddr string

	// Connection settings for the exchange gateway
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	MaxSubmitAttempts    int
	RetryMinDelay        time.Duration
	RetryMaxDelay        time.Duration
	OrderRateLimit       float64 // Order-entry calls per second
	OrderRateBurst       int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.PaperMode = getEnvAsBool("PAPER_MODE", false)
	cfg.PaperBalance = getEnvAsFloat("PAPER_BALANCE", 10000.0)

	// Keys are only needed when orders go to the real exchange. Paper mode
	// reads public market data, which works unauthenticated.
	if !cfg.PaperMode {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	// Symbols
	symbolsStr := getEnv("SYMBOLS", "ETHUSDT")
	for _, s := range strings.Split(symbolsStr, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}

	cfg.DefaultLeverage, err = getEnvAsIntRequired("LEVERAGE", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.DefaultLeverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.DefaultCooldownSec = getEnvAsInt("FLIP_COOLDOWN_SECONDS", 60)
	if cfg.DefaultCooldownSec < 0 {
		errs = append(errs, "FLIP_COOLDOWN_SECONDS cannot be negative")
	}

	// Strategy
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")
	cfg.KlineHistory = getEnvAsInt("KLINE_HISTORY", 250)
	if cfg.KlineHistory <= 0 {
		errs = append(errs, "KLINE_HISTORY must be positive")
	}

	// Engine timings
	cfg.TransitionalTimeout = getEnvAsDuration("TRANSITIONAL_TIMEOUT", 15*time.Second, &errs)
	cfg.StaleIntentTTL = getEnvAsDuration("STALE_INTENT_TTL", 30*time.Second, &errs)
	cfg.HousekeepingInterval = getEnvAsDuration("HOUSEKEEPING_INTERVAL", 1*time.Second, &errs)
	cfg.SubmitTimeout = getEnvAsDuration("SUBMIT_TIMEOUT", 5*time.Second, &errs)

	// Reconciliation
	cfg.ReconcileInterval = getEnvAsDuration("RECONCILE_INTERVAL", 15*time.Second, &errs)
	cfg.ReconcileTimeout = getEnvAsDuration("RECONCILE_TIMEOUT", 20*time.Second, &errs)

	// Risk limits
	cfg.MaxPositionSize, err = getEnvAsFloatRequired("MAX_POSITION_SIZE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE: %v", err))
	} else if cfg.MaxPositionSize < 0 {
		errs = append(errs, "MAX_POSITION_SIZE cannot be negative")
	}

	cfg.MaxNotional, err = getEnvAsFloatRequired("MAX_NOTIONAL", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_NOTIONAL: %v", err))
	} else if cfg.MaxNotional < 0 {
		errs = append(errs, "MAX_NOTIONAL cannot be negative")
	}

	cfg.MaxLeverage = getEnvAsInt("MAX_LEVERAGE", 20)
	if cfg.MaxLeverage <= 0 {
		errs = append(errs, "MAX_LEVERAGE must be positive")
	} else if cfg.DefaultLeverage > cfg.MaxLeverage {
		errs = append(errs, "LEVERAGE must not exceed MAX_LEVERAGE")
	}

	// Sizing
	cfg.SizingMode = sizing.Mode(strings.ToLower(getEnv("SIZING_MODE", string(sizing.ModePercent))))
	switch cfg.SizingMode {
	case sizing.ModePercent, sizing.ModeFixed, sizing.ModeFull:
	default:
		errs = append(errs, fmt.Sprintf("invalid SIZING_MODE %q (percent, fixed or full)", cfg.SizingMode))
	}

	cfg.SizingValue, err = getEnvAsFloatRequired("SIZING_VALUE", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SIZING_VALUE: %v", err))
	}
	cfg.SizingReserve = getEnvAsFloat("SIZING_RESERVE", 0)
	cfg.SizingCap = getEnvAsFloat("SIZING_CAP", 0)
	if cfg.SizingReserve < 0 || cfg.SizingCap < 0 {
		errs = append(errs, "SIZING_RESERVE and SIZING_CAP cannot be negative")
	}

	// Exit defaults
	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.TakeProfitPct < 0 {
		errs = append(errs, "TAKE_PROFIT_PCT cannot be negative")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct < 0 {
		errs = append(errs, "STOP_LOSS_PCT cannot be negative")
	}

	cfg.BreakEvenTriggerPct = getEnvAsFloat("BREAK_EVEN_TRIGGER_PCT", 0)
	cfg.BreakEvenOffsetPct = getEnvAsFloat("BREAK_EVEN_OFFSET_PCT", 0.05)
	if cfg.BreakEvenTriggerPct < 0 || cfg.BreakEvenOffsetPct < 0 {
		errs = append(errs, "break-even percentages cannot be negative")
	}

	cfg.MaxHold = getEnvAsDuration("MAX_HOLD", 0, &errs)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/flipper.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "zap"))
	if cfg.LogFormat != "std" && cfg.LogFormat != "zap" {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT %q (std or zap)", cfg.LogFormat))
	}

	// Control surface
	cfg.ControlListenAddr = getEnv("CONTROL_LISTEN_ADDR", ":8880")

	// Connection settings
	cfg.ReconnectDelay = getEnvAsDuration("RECONNECT_DELAY", 5*time.Second, &errs)

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.MaxSubmitAttempts = getEnvAsInt("MAX_SUBMIT_ATTEMPTS", 3)
	if cfg.MaxSubmitAttempts <= 0 {
		errs = append(errs, "MAX_SUBMIT_ATTEMPTS must be positive")
	}

	cfg.RetryMinDelay = getEnvAsDuration("RETRY_MIN_DELAY", 250*time.Millisecond, &errs)
	cfg.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", 2*time.Second, &errs)
	if cfg.RetryMinDelay > cfg.RetryMaxDelay {
		errs = append(errs, "RETRY_MIN_DELAY must not exceed RETRY_MAX_DELAY")
	}

	cfg.OrderRateLimit = getEnvAsFloat("ORDER_RATE_LIMIT", 5.0)
	cfg.OrderRateBurst = getEnvAsInt("ORDER_RATE_BURST", 10)
	if cfg.OrderRateLimit <= 0 || cfg.OrderRateBurst <= 0 {
		errs = append(errs, "ORDER_RATE_LIMIT and ORDER_RATE_BURST must be positive")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration parses values like "15s" or "2m". Invalid values are
// collected into errs so the caller reports them all at once.
func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid duration '%s' for key %s", valueStr, key))
		return defaultValue
	}
	if value < 0 {
		*errs = append(*errs, fmt.Sprintf("%s cannot be negative", key))
		return defaultValue
	}
	return value
}

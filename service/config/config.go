package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL     string
	Network          string // "mainnet" or "devnet"
	TokenMintAddress string // mint of the membership payment token
	TokenDecimals    int
	TreasuryKeyFile  string // path to the treasury keypair used to sign payouts
	TreasuryWallet   string // public address buyers pay the net payment to

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Exchange rate configuration
	RateFeeds           []RateFeed
	RateBuffer          float64 // safety buffer subtracted from the raw rate
	RateFallback        float64 // used when every feed fails
	RateRefreshInterval time.Duration

	// Audit store configuration
	AuditPinURL string // content-addressed store pin endpoint; empty disables audit reports

	// Plan purchase configuration
	Plans PlanConfig
}

// RateFeed describes one external price endpoint and the gojq expression
// that extracts the rate from its response body.
type RateFeed struct {
	URL  string
	Expr string
}

// PlanConfig holds the membership plan purchase settings.
type PlanConfig struct {
	// FeeRecipientA receives SplitPercentA percent of the membership fee,
	// FeeRecipientB receives the remainder.
	FeeRecipientA string
	FeeRecipientB string
	SplitPercentA int

	// PlanAFee and PlanBFee are the fiat prices (THB) of the two tiers.
	PlanAFee float64
	PlanBFee float64

	// BonusTokenAmount is the token allocation paid out in the final step,
	// in base units.
	BonusTokenAmount int64

	// BonusPoolWallet is the address the bonus token payout is sent from
	// (informational; the treasury key signs the transfer).
	BonusPoolWallet string

	// ReferralPercent of the fee is paid to the referrer.
	ReferralPercent int

	// MinimumPayment is the nominal token payment made when accumulated
	// bonus fully covers the fee. Keeps every purchase on-chain.
	MinimumPayment float64

	// ConfirmTimeout bounds how long a purchase step may sit awaiting the
	// buyer's confirmation before the workflow gives up.
	ConfirmTimeout time.Duration

	// ReferralRetryAttempts and ReferralRetryDelay control the fixed-delay
	// retry loop around the referral payout.
	ReferralRetryAttempts int
	ReferralRetryDelay    time.Duration
}

// LoadDefaults populates a PlanConfig from environment variables with safe defaults.
func (p *PlanConfig) LoadDefaults() {
	p.FeeRecipientA = os.Getenv("PLAN_FEE_RECIPIENT_A")
	p.FeeRecipientB = os.Getenv("PLAN_FEE_RECIPIENT_B")
	p.SplitPercentA = getEnvInt("PLAN_SPLIT_PERCENT_A", 70)
	p.PlanAFee = getEnvFloat("PLAN_A_FEE", 800)
	p.PlanBFee = getEnvFloat("PLAN_B_FEE", 400)
	p.BonusTokenAmount = int64(getEnvInt("PLAN_BONUS_TOKEN_AMOUNT", 1000000))
	p.BonusPoolWallet = os.Getenv("PLAN_BONUS_POOL_WALLET")
	p.ReferralPercent = getEnvInt("PLAN_REFERRAL_PERCENT", 10)
	p.MinimumPayment = getEnvFloat("PLAN_MINIMUM_PAYMENT", 0.01)
	p.ConfirmTimeout = getEnvDuration("PLAN_CONFIRM_TIMEOUT", 30*time.Minute)
	p.ReferralRetryAttempts = getEnvInt("PLAN_REFERRAL_RETRY_ATTEMPTS", 3)
	p.ReferralRetryDelay = getEnvDuration("PLAN_REFERRAL_RETRY_DELAY", 2*time.Second)
}

// Validate checks the plan configuration for consistency.
func (p *PlanConfig) Validate() error {
	var errs []error

	if p.FeeRecipientA == "" {
		errs = append(errs, fmt.Errorf("PLAN_FEE_RECIPIENT_A is required"))
	}
	if p.FeeRecipientB == "" {
		errs = append(errs, fmt.Errorf("PLAN_FEE_RECIPIENT_B is required"))
	}
	if p.SplitPercentA < 0 || p.SplitPercentA > 100 {
		errs = append(errs, fmt.Errorf("PLAN_SPLIT_PERCENT_A must be in [0,100], got %d", p.SplitPercentA))
	}
	if p.PlanAFee <= 0 || p.PlanBFee <= 0 {
		errs = append(errs, fmt.Errorf("plan fees must be positive"))
	}
	if p.ReferralPercent < 0 || p.ReferralPercent > 100 {
		errs = append(errs, fmt.Errorf("PLAN_REFERRAL_PERCENT must be in [0,100], got %d", p.ReferralPercent))
	}
	if p.MinimumPayment <= 0 {
		errs = append(errs, fmt.Errorf("PLAN_MINIMUM_PAYMENT must be positive"))
	}
	if p.ConfirmTimeout < time.Minute {
		errs = append(errs, fmt.Errorf("PLAN_CONFIRM_TIMEOUT must be at least 1 minute"))
	}
	if p.ReferralRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("PLAN_REFERRAL_RETRY_ATTEMPTS must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("plan configuration validation failed: %v", errs)
	}
	return nil
}

// FeeForPlan returns the fiat fee for a plan ID, or an error for unknown plans.
func (p *PlanConfig) FeeForPlan(planID string) (float64, error) {
	switch planID {
	case "plan-a":
		return p.PlanAFee, nil
	case "plan-b":
		return p.PlanBFee, nil
	default:
		return 0, fmt.Errorf("unknown plan: %s", planID)
	}
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	if cfg.Network != "mainnet" && cfg.Network != "devnet" {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be 'mainnet' or 'devnet', got %q", cfg.Network))
	}

	cfg.TokenMintAddress = os.Getenv("TOKEN_MINT_ADDRESS")
	if cfg.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS is required"))
	}

	cfg.TokenDecimals = getEnvInt("TOKEN_DECIMALS", 6)
	if cfg.TokenDecimals < 0 || cfg.TokenDecimals > 18 {
		errs = append(errs, fmt.Errorf("TOKEN_DECIMALS must be in [0,18], got %d", cfg.TokenDecimals))
	}

	cfg.TreasuryKeyFile = os.Getenv("TREASURY_KEY_FILE")
	cfg.TreasuryWallet = os.Getenv("TREASURY_WALLET")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "planpay-purchases")

	// Exchange rate configuration.
	// RATE_FEEDS is a comma-separated list of url|expr pairs, tried in order.
	feeds, err := parseRateFeeds(getEnvOrDefault("RATE_FEEDS", defaultRateFeeds))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateFeeds = feeds
	}

	cfg.RateBuffer = getEnvFloat("RATE_BUFFER", 0.25)
	cfg.RateFallback = getEnvFloat("RATE_FALLBACK", 4.35)
	if cfg.RateFallback <= 0 {
		errs = append(errs, fmt.Errorf("RATE_FALLBACK must be positive, got %v", cfg.RateFallback))
	}

	refreshInterval, err := parseDuration("RATE_REFRESH_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateRefreshInterval = refreshInterval
	}

	// Audit store configuration (optional)
	cfg.AuditPinURL = os.Getenv("AUDIT_PIN_URL")

	// Plan purchase configuration
	cfg.Plans.LoadDefaults()
	if err := cfg.Plans.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// defaultRateFeeds tries CoinGecko first, then Binance; each provider exposes
// a different response shape, hence the per-feed extraction expression.
const defaultRateFeeds = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=thb|.solana.thb," +
	"https://api.binance.com/api/v3/ticker/price?symbol=SOLTHB|.price"

// parseRateFeeds parses the RATE_FEEDS env format: comma-separated "url|jq-expr" pairs.
func parseRateFeeds(raw string) ([]RateFeed, error) {
	var feeds []RateFeed
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("RATE_FEEDS: invalid entry %q: expected url|expr", entry)
		}
		feeds = append(feeds, RateFeed{URL: parts[0], Expr: parts[1]})
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("RATE_FEEDS: at least one feed is required")
	}
	return feeds, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TokenMintAddress is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(c.RateFeeds) == 0 {
		errs = append(errs, fmt.Errorf("at least one rate feed is required"))
	}

	if c.RateFallback <= 0 {
		errs = append(errs, fmt.Errorf("RateFallback must be positive"))
	}

	if c.RateRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("RateRefreshInterval must be at least 1 second"))
	}

	if err := c.Plans.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// getEnvDuration parses a duration env var, falling back to the default on error.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvInt parses an integer env var, falling back to the default on error.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

// getEnvFloat parses a float env var, falling back to the default on error.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

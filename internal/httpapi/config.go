package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
)

const (
	defaultListenAddr           = ":9090"
	defaultGRPCListenAddr       = ":7000"
	defaultDatabaseURL          = "sqlite:///tmp/coinledger.db"
	defaultAllowedOrigin        = "http://localhost:8000"
	defaultSessionIssuer        = "tauth"
	defaultSessionCookie        = "app_session"
	defaultCoinsPerCurrencyUnit = 10
	defaultMinimumWithdrawal    = 500
	defaultRequestTimeout       = 5 * time.Second
	defaultRecentEntriesLimit   = 10
	defaultPayoutProcessingTime = "3-5 business days"
	defaultCatalogCacheTTL      = time.Minute
	defaultAdminRole            = "admin"
	defaultCreatorRole          = "creator"
)

// Config aggregates runtime settings for the ledger daemon.
type Config struct {
	ListenAddr     string
	GRPCListenAddr string
	DatabaseURL    string
	// RedisAddr enables the catalog cache when set.
	RedisAddr         string
	CatalogCacheTTL   time.Duration
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	CreatorRole       string

	CoinsPerCurrencyUnit   int64
	MinimumWithdrawalUnits int64
	PayoutProcessingTime   string
	RequestTimeout         time.Duration
	RecentEntriesLimit     int
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	if cfg.CatalogCacheTTL <= 0 {
		cfg.CatalogCacheTTL = defaultCatalogCacheTTL
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.CreatorRole = defaultIfEmpty(cfg.CreatorRole, defaultCreatorRole)
	if cfg.CoinsPerCurrencyUnit == 0 {
		cfg.CoinsPerCurrencyUnit = defaultCoinsPerCurrencyUnit
	}
	if cfg.MinimumWithdrawalUnits == 0 {
		cfg.MinimumWithdrawalUnits = defaultMinimumWithdrawal
	}
	cfg.PayoutProcessingTime = defaultIfEmpty(cfg.PayoutProcessingTime, defaultPayoutProcessingTime)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RecentEntriesLimit <= 0 {
		cfg.RecentEntriesLimit = defaultRecentEntriesLimit
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if err := cfg.WithdrawalPolicy().Validate(); err != nil {
		return err
	}
	return nil
}

// WithdrawalPolicy returns the configured conversion constants.
func (cfg Config) WithdrawalPolicy() ledger.WithdrawalPolicy {
	return ledger.WithdrawalPolicy{
		CoinsPerCurrencyUnit: cfg.CoinsPerCurrencyUnit,
		MinimumCurrencyUnits: cfg.MinimumWithdrawalUnits,
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

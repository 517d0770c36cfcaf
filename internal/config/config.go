package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
)

const (
	defaultDatabaseURL   = "sqlite://dispatchledger.db"
	defaultHTTPAddr      = ":8080"
	defaultGRPCAddr      = ":7000"
	defaultAllowedOrigin = "http://localhost:8000"
	defaultSessionIssuer = "tauth"
	defaultSessionCookie = "app_session"
	defaultNATSStream    = "DISPATCH_EVENTS"
	defaultSweepInterval = time.Minute
	defaultHealthPeriod  = 10 * time.Second
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for dispatchd.
type Config struct {
	DatabaseURL       string
	HTTPAddr          string
	GRPCAddr          string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	ApprovalSecret    string
	NATSURL           string
	NATSStream        string
	SweepInterval     time.Duration
	HealthInterval    time.Duration
	PendingTimeout    time.Duration
	Dispatch          dispatch.Policy
}

// Validate fills defaults and rejects values the services cannot run with.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.HTTPAddr = defaultIfEmpty(cfg.HTTPAddr, defaultHTTPAddr)
	cfg.GRPCAddr = defaultIfEmpty(cfg.GRPCAddr, defaultGRPCAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.NATSStream = defaultIfEmpty(cfg.NATSStream, defaultNATSStream)
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = defaultHealthPeriod
	}
	if cfg.PendingTimeout == 0 {
		cfg.PendingTimeout = orders.DefaultPendingTimeout
	}
	defaults := dispatch.DefaultPolicy()
	if len(cfg.Dispatch.RadiusTiersKm) == 0 {
		cfg.Dispatch.RadiusTiersKm = defaults.RadiusTiersKm
	}
	if cfg.Dispatch.ExpansionInterval == 0 {
		cfg.Dispatch.ExpansionInterval = defaults.ExpansionInterval
	}
	if cfg.Dispatch.FanOut == 0 {
		cfg.Dispatch.FanOut = defaults.FanOut
	}
	if cfg.Dispatch.LocationFreshness == 0 {
		cfg.Dispatch.LocationFreshness = defaults.LocationFreshness
	}
	if cfg.Dispatch.SpeedKmh == 0 {
		cfg.Dispatch.SpeedKmh = defaults.SpeedKmh
	}

	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ApprovalSecret) == "" {
		return fmt.Errorf("%w: approval secret is required", ErrInvalidConfig)
	}
	if cfg.SweepInterval < 0 || cfg.HealthInterval < 0 || cfg.PendingTimeout < 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	return splitList(raw)
}

// ParseRadiusTiers parses comma-delimited kilometre values such as "5,10,15".
func ParseRadiusTiers(raw string) ([]float64, error) {
	parts := splitList(raw)
	tiers := make([]float64, 0, len(parts))
	for _, part := range parts {
		radius, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: radius tier %q: %w", ErrInvalidConfig, part, err)
		}
		tiers = append(tiers, radius)
	}
	return tiers, nil
}

func splitList(raw string) []string {
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

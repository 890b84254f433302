// Package config defines the configuration of the curve optimizer service
// and provides validation helpers.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/curve-optimizer/internal/optimizer"
	"github.com/atmx/curve-optimizer/internal/risk"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CURVEOPT_* environment
// variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Pricing   PricingConfig   `toml:"pricing"`
	Batch     BatchConfig     `toml:"batch"`
	Risk      RiskConfig      `toml:"risk"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the read-through cache connection. It is only used
// together with a database.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL duration `toml:"ttl"`
}

// OptimizerConfig tunes the numerical strategies.
type OptimizerConfig struct {
	Method           string  `toml:"method"`
	Fallback         string  `toml:"fallback"` // empty disables the fallback
	Tolerance        float64 `toml:"tolerance"`
	ReserveTolerance float64 `toml:"reserve_tolerance"`
	MaxIterations    int     `toml:"max_iterations"`
	JacobianStep     float64 `toml:"jacobian_step"`
	MaxLogStep       float64 `toml:"max_log_step"`
	CorrectionPasses int     `toml:"correction_passes"`

	// UnitScale conditions tokens whose flows differ by orders of
	// magnitude. Missing tokens have scale 1.
	UnitScale map[string]float64 `toml:"unit_scale"`
}

// PricingConfig controls price estimation.
type PricingConfig struct {
	// Intermediaries are the tokens triangulated through when no direct
	// curve exists. Empty means every token.
	Intermediaries []string `toml:"intermediaries"`
	// QuoteRanking orders symbols by how strongly they act as quote token.
	QuoteRanking []string `toml:"quote_ranking"`
}

// BatchConfig holds miniverse fan-out parameters.
type BatchConfig struct {
	Workers int `toml:"workers"`
}

// RiskConfig holds exposure limits for instruction batches. Zero limits
// are disabled.
type RiskConfig struct {
	Enabled           bool                `toml:"enabled"`
	TokenLimits       map[string]float64  `toml:"token_limits"`
	DefaultTokenLimit float64             `toml:"default_token_limit"`
	Groups            map[string][]string `toml:"groups"`
	GroupLimit        float64             `toml:"group_limit"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{60 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Redis: RedisConfig{
			TTL: duration{30 * time.Second},
		},
		Optimizer: OptimizerConfig{
			Method:           optimizer.MethodMarginalPrice,
			Fallback:         optimizer.MethodPairBisection,
			Tolerance:        optimizer.DefaultTolerance,
			ReserveTolerance: optimizer.DefaultReserveTolerance,
			MaxIterations:    optimizer.DefaultMaxIterations,
			JacobianStep:     optimizer.DefaultJacobianStep,
			MaxLogStep:       optimizer.DefaultMaxLogStep,
			CorrectionPasses: 5,
		},
		Pricing: PricingConfig{
			Intermediaries: []string{"USDC", "WETH", "ETH"},
			QuoteRanking:   []string{"USDC", "USDT", "DAI", "WETH", "ETH", "WBTC", "BTC"},
		},
		Batch: BatchConfig{
			Workers: 4,
		},
		Risk: RiskConfig{
			Groups: map[string][]string{
				"usd": {"USDC", "USDT", "DAI"},
				"eth": {"ETH", "WETH"},
			},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validMethods = map[string]bool{
	optimizer.MethodMarginalPrice: true,
	optimizer.MethodPairBisection: true,
	optimizer.MethodConvex:        true,
}

// Validate checks the configuration for errors and returns all of them
// joined in a single error.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}

	// Redis is a cache in front of the database, never a store on its own.
	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, "redis: url requires database.url")
	}
	if c.Redis.URL != "" && c.Redis.TTL.Duration <= 0 {
		errs = append(errs, "redis: ttl must be positive")
	}

	// Optimizer
	o := c.Optimizer
	if !validMethods[o.Method] {
		errs = append(errs, fmt.Sprintf("optimizer: unknown method %q (valid: margp, bisection, convex)", o.Method))
	}
	if o.Fallback != "" {
		if !validMethods[o.Fallback] {
			errs = append(errs, fmt.Sprintf("optimizer: unknown fallback %q", o.Fallback))
		} else if o.Fallback == o.Method {
			errs = append(errs, "optimizer: fallback must differ from method")
		}
	}
	if o.Tolerance < 0 || o.ReserveTolerance < 0 || o.JacobianStep < 0 || o.MaxLogStep < 0 {
		errs = append(errs, "optimizer: tolerances and steps must not be negative")
	}
	if o.MaxIterations < 0 {
		errs = append(errs, "optimizer: max_iterations must not be negative")
	}
	if o.CorrectionPasses < 0 {
		errs = append(errs, "optimizer: correction_passes must not be negative")
	}
	for tkn, s := range o.UnitScale {
		if !(s > 0) {
			errs = append(errs, fmt.Sprintf("optimizer: unit_scale for %s must be positive, got %g", tkn, s))
		}
	}

	// Batch
	if c.Batch.Workers < 1 {
		errs = append(errs, "batch: workers must be >= 1")
	}

	// Risk
	for tkn, lim := range c.Risk.TokenLimits {
		if lim < 0 {
			errs = append(errs, fmt.Sprintf("risk: token limit for %s must not be negative", tkn))
		}
	}
	if c.Risk.DefaultTokenLimit < 0 || c.Risk.GroupLimit < 0 {
		errs = append(errs, "risk: limits must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Settings converts the section into optimizer settings.
func (o OptimizerConfig) Settings(logger *slog.Logger) optimizer.Config {
	return optimizer.Config{
		Tolerance:        o.Tolerance,
		ReserveTolerance: o.ReserveTolerance,
		MaxIterations:    o.MaxIterations,
		JacobianStep:     o.JacobianStep,
		MaxLogStep:       o.MaxLogStep,
		Scale:            optimizer.Scale(o.UnitScale),
		Logger:           logger,
	}
}

// Limiter builds the exposure limiter, or nil when risk checks are off.
func (r RiskConfig) Limiter() *risk.ExposureLimiter {
	if !r.Enabled {
		return nil
	}
	limits := make(map[string]decimal.Decimal, len(r.TokenLimits))
	for tkn, v := range r.TokenLimits {
		limits[tkn] = decimal.NewFromFloat(v)
	}
	l := risk.NewExposureLimiter(limits, r.Groups, decimal.NewFromFloat(r.GroupLimit))
	l.DefaultTokenLimit = decimal.NewFromFloat(r.DefaultTokenLimit)
	return l
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the variable holding the TOML file path.
const EnvConfigPath = "CURVEOPT_CONFIG"

// Load reads a TOML configuration file at path (skipped when path is
// empty), merges it on top of the built-in defaults, applies CURVEOPT_*
// environment variable overrides, and returns the final Config. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CURVEOPT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. The
// unprefixed PORT, DATABASE_URL and REDIS_URL are honoured first so the
// usual container conventions keep working.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "CURVEOPT_SERVER_PORT")
	setDuration(&cfg.Server.RequestTimeout, "CURVEOPT_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "CURVEOPT_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "CURVEOPT_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Database.URL, "CURVEOPT_DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "CURVEOPT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "CURVEOPT_REDIS_URL")
	setDuration(&cfg.Redis.TTL, "CURVEOPT_REDIS_TTL")

	// ── Optimizer ──
	setStr(&cfg.Optimizer.Method, "CURVEOPT_OPTIMIZER_METHOD")
	setStr(&cfg.Optimizer.Fallback, "CURVEOPT_OPTIMIZER_FALLBACK")
	setFloat64(&cfg.Optimizer.Tolerance, "CURVEOPT_OPTIMIZER_TOLERANCE")
	setFloat64(&cfg.Optimizer.ReserveTolerance, "CURVEOPT_OPTIMIZER_RESERVE_TOLERANCE")
	setInt(&cfg.Optimizer.MaxIterations, "CURVEOPT_OPTIMIZER_MAX_ITERATIONS")
	setFloat64(&cfg.Optimizer.JacobianStep, "CURVEOPT_OPTIMIZER_JACOBIAN_STEP")
	setFloat64(&cfg.Optimizer.MaxLogStep, "CURVEOPT_OPTIMIZER_MAX_LOG_STEP")
	setInt(&cfg.Optimizer.CorrectionPasses, "CURVEOPT_OPTIMIZER_CORRECTION_PASSES")

	// ── Pricing ──
	setStringSlice(&cfg.Pricing.Intermediaries, "CURVEOPT_PRICING_INTERMEDIARIES")
	setStringSlice(&cfg.Pricing.QuoteRanking, "CURVEOPT_PRICING_QUOTE_RANKING")

	// ── Batch ──
	setInt(&cfg.Batch.Workers, "CURVEOPT_BATCH_WORKERS")

	// ── Risk ──
	setBool(&cfg.Risk.Enabled, "CURVEOPT_RISK_ENABLED")
	setFloat64(&cfg.Risk.DefaultTokenLimit, "CURVEOPT_RISK_DEFAULT_TOKEN_LIMIT")
	setFloat64(&cfg.Risk.GroupLimit, "CURVEOPT_RISK_GROUP_LIMIT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CURVEOPT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

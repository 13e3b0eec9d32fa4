// Package config loads server configuration from CLI flags and environment
// variables, validates it, and provides defaults.
//
// CLI flags select the listen address and development mode (--addr, --dev).
// Environment variables carry the database key and tuning knobs.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/kuitang/ticketnotes/internal/ratelimit"
	"github.com/kuitang/ticketnotes/internal/urlutil"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":3500"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	StorageTimeout time.Duration `env:"STORAGE_TIMEOUT" envDefault:"5s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`

	// Database and encryption
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/notes.db"`
	DatabaseKey  string `env:"DATABASE_KEY"` // 64 hex characters (32 bytes)
	TicketStart  int64  `env:"TICKET_START" envDefault:"500"`

	// Passwords
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// Development mode (controlled by --dev, not env vars): an unkeyed
	// database is allowed.
	Dev bool `env:"-"`
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags holds parsed CLI flag values.
type Flags struct {
	Addr string
	Dev  bool
}

// ParseFlags parses --addr and --dev from args.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :3500, overrides LISTEN_ADDR env var)")
	fs.BoolVar(&f.Dev, "dev", false, "Development mode: allow an unencrypted database without DATABASE_KEY")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
// A non-empty flags.Addr overrides LISTEN_ADDR.
func LoadConfig(flags Flags) (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg.Dev = flags.Dev
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	cfg.DatabaseKey = strings.TrimSpace(cfg.DatabaseKey)
	if origins, err := urlutil.NormalizeOrigins(cfg.AllowedOrigins); err == nil {
		cfg.AllowedOrigins = origins
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, "LISTEN_ADDR must not be empty")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, "DATABASE_PATH must not be empty")
	}

	// DatabaseKey: required outside dev mode (losing it = database unreadable)
	switch {
	case c.DatabaseKey == "" && !c.Dev:
		errs = append(errs, "DATABASE_KEY is required (generate with: openssl rand -hex 32, or use --dev)")
	case c.DatabaseKey != "":
		if len(c.DatabaseKey) != 64 {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (32 bytes)")
		} else if _, err := hex.DecodeString(c.DatabaseKey); err != nil {
			errs = append(errs, "DATABASE_KEY must be hex encoded")
		}
	}

	if _, err := urlutil.NormalizeOrigins(c.AllowedOrigins); err != nil {
		errs = append(errs, "ALLOWED_ORIGINS: "+err.Error())
	}

	if c.TicketStart < 0 {
		errs = append(errs, "TICKET_START must not be negative")
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, "STORAGE_TIMEOUT must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, "BCRYPT_COST must be between 4 and 31")
	}

	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// DatabaseKeyBytes decodes DatabaseKey. It returns nil when no key is set.
func (c *Config) DatabaseKeyBytes() []byte {
	if c.DatabaseKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.DatabaseKey)
	if err != nil {
		return nil
	}
	return key
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ticketnotes server starting...")

	if c.DatabaseKey == "" {
		fmt.Fprintf(w, "  Database: %s (UNENCRYPTED, --dev)\n", c.DatabasePath)
	} else {
		fmt.Fprintf(w, "  Database: %s (SQLCipher, key derived from DATABASE_KEY)\n", c.DatabasePath)
	}
	fmt.Fprintf(w, "  Tickets:  start at %d\n", c.TicketStart)
	fmt.Fprintf(w, "  Origins:  %s\n", strings.Join(c.AllowedOrigins, ", "))
	clientKey := "peer address"
	if c.RateLimitConfig.TrustProxyHeaders {
		clientKey = "X-Forwarded-For"
	}
	fmt.Fprintf(w, "  Limits:   %.2f rps, burst %d, keyed by %s\n", c.RateLimitConfig.RPS, c.RateLimitConfig.Burst, clientKey)
	fmt.Fprintf(w, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintln(w, "")
}

// MustLoadConfig loads configuration and exits if validation fails.
func MustLoadConfig(flags Flags) *Config {
	cfg, err := LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Package config holds the startup settings for the tensor core and the
// tensorcore command.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

// Config is populated from command-line flags.
type Config struct {
	DefaultKind    string
	DefaultBackend string
	CPUPooling     bool
	// MemoryBudget caps live bytes per backend, e.g. "4GB". "0" or "" means
	// unlimited.
	MemoryBudget string
	LogLevel     string
	OTel         bool
	ListenAddr   string
}

// Default returns the settings used when no flags are given.
func Default() Config {
	return Config{
		DefaultKind:    "float32",
		DefaultBackend: "cpu",
		CPUPooling:     true,
		MemoryBudget:   "0",
		LogLevel:       "info",
		ListenAddr:     ":8080",
	}
}

// BindFlags registers one flag per field on fs, defaulting to c's values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DefaultKind, "default-dtype", c.DefaultKind, "Default floating-point element kind (float32, float64, float16, bfloat16)")
	fs.StringVar(&c.DefaultBackend, "default-backend", c.DefaultBackend, "Backend of the default tensor type (cpu, arrow)")
	fs.BoolVar(&c.CPUPooling, "cpu-pool", c.CPUPooling, "Reuse freed CPU buffers")
	fs.StringVar(&c.MemoryBudget, "max-memory", c.MemoryBudget, "Maximum live bytes per backend (e.g. 4GB, 512MB; 0 = unlimited)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&c.OTel, "otel", c.OTel, "Enable OpenTelemetry tracing (stdout)")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Address for the HTTP server (e.g. :8080)")
}

// Validate checks every field that can be checked without a registry.
func (c Config) Validate() error {
	kind, err := dtype.Parse(c.DefaultKind)
	if err != nil {
		return errors.Wrap(err, "default-dtype")
	}
	if !kind.IsFloatingPoint() {
		return errors.Errorf("default-dtype: %s is not a floating-point kind", kind)
	}
	if c.DefaultBackend == "" {
		return errors.New("default-backend: empty")
	}
	if _, err := c.BudgetBytes(); err != nil {
		return errors.Wrap(err, "max-memory")
	}
	if _, err := c.Level(); err != nil {
		return errors.Wrap(err, "log-level")
	}
	return nil
}

// Kind returns the parsed default kind.
func (c Config) Kind() (dtype.Kind, error) {
	return dtype.Parse(c.DefaultKind)
}

// BudgetBytes returns MemoryBudget in bytes; 0 means unlimited.
func (c Config) BudgetBytes() (int64, error) {
	return ParseBytes(c.MemoryBudget)
}

// Level returns the parsed log level.
func (c Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(c.LogLevel))
}

// ParseBytes reads sizes such as "4GB", "512MB", "64K" or "1024". Units are
// binary multiples.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	split := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	digits, unit := s, ""
	if split >= 0 {
		digits, unit = s[:split], strings.ToUpper(strings.TrimSpace(s[split:]))
	}
	val, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	var shift uint
	switch unit {
	case "", "B":
	case "KB", "K":
		shift = 10
	case "MB", "M":
		shift = 20
	case "GB", "G":
		shift = 30
	case "TB", "T":
		shift = 40
	default:
		return 0, fmt.Errorf("invalid size unit %q", unit)
	}
	if val > (1<<63-1)>>shift {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return val << shift, nil
}

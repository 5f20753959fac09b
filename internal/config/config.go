package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/nfrund/sharedhub/internal/pubsub"
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the hub process.
type Config struct {
	Addr           string        `validate:"required"`
	InitialTheme   string        `validate:"oneof=LIGHT DARK"`
	SendBuffer     int           `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	ReadLimit      int64         `validate:"gt=0"`
	AllowedOrigins []string      `validate:"dive,required"`
	UpgradeRate    float64       `validate:"gte=0"`
	LogFormat      string        `validate:"oneof=text json"`
	LogLevel       string        `validate:"oneof=debug info warn error"`
	Tracing        pubsub.TracingConfig
}

// tracingRules validates the tracing section, which lives in pubsub and
// carries no tags of its own.
var tracingRules = map[string]string{
	"ServiceName": "required",
	"ZipkinURL":   "omitempty,url",
}

// Defaults returns the configuration used when no variables are set.
func Defaults() Config {
	return Config{
		Addr:         ":8080",
		InitialTheme: "LIGHT",
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		ReadLimit:    64 << 10,
		UpgradeRate:  10,
		LogFormat:    "text",
		LogLevel:     "debug",
		Tracing:      pubsub.DefaultTracingConfig(),
	}
}

// Load reads an optional .env file (or the given files) and then the
// environment. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		// slog is not configured yet; this goes to the default handler.
		slog.Debug("No .env file loaded, relying on environment variables", "error", err)
	}

	cfg := Defaults()
	cfg.Addr = envString("HUB_ADDR", cfg.Addr)
	cfg.InitialTheme = strings.ToUpper(envString("HUB_INITIAL_THEME", cfg.InitialTheme))
	cfg.LogFormat = strings.ToLower(envString("LOG_FORMAT", cfg.LogFormat))
	cfg.LogLevel = strings.ToLower(envString("LOG_LEVEL", cfg.LogLevel))
	cfg.Tracing.ServiceName = envString("PUBSUB_TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.ZipkinURL = envString("PUBSUB_TRACING_ZIPKIN_URL", cfg.Tracing.ZipkinURL)

	var err error
	if cfg.Tracing.Enabled, err = envBool("PUBSUB_TRACING_ENABLED", cfg.Tracing.Enabled); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = envInt("HUB_SEND_BUFFER", cfg.SendBuffer); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = envDuration("HUB_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return nil, err
	}
	readLimit, err := envInt("HUB_READ_LIMIT", int(cfg.ReadLimit))
	if err != nil {
		return nil, err
	}
	cfg.ReadLimit = int64(readLimit)

	if v := os.Getenv("HUB_UPGRADE_RATE"); v != "" {
		if cfg.UpgradeRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("%w: HUB_UPGRADE_RATE=%q is not a number", ErrInvalidConfig, v)
		}
	}

	if origins := os.Getenv("HUB_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, strings.TrimSpace(o))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags on c.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterStructValidationMapRules(tracingRules, pubsub.TracingConfig{})
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v)
	}
	return d, nil
}

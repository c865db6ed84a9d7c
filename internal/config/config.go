// Package config loads the aurora-rest service configuration.
//
// Values are layered: built-in defaults, then an optional JSON file, then
// AURORA_REST_* environment variables. Process-pool workers do not read the
// service configuration; they receive what they need through AURORA_WORKER_*
// variables (see WorkerEnv and LoadWorkerConfig).
package config

import (
	"aurorarest/internal/apperrors"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override the service config.
const EnvPrefix = "AURORA_REST_"

// ServiceConfig holds configuration for the aurora-rest service.
type ServiceConfig struct {
	Port              int           `json:"port" validate:"min=1,max=65535"`
	MetricsPort       int           `json:"metrics_port" validate:"min=0,max=65535"` // 0 disables the metrics listener
	URLPrefix         string        `json:"url_prefix"`
	APIKeyFile        string        `json:"api_key_file"`
	ShutdownDrainWait time.Duration `json:"shutdown_drain_wait" validate:"min=0s"` // Time to wait for load balancer to drain (0 to skip)

	// Executor selects how the aurora client is run: "external" runs the
	// binary on this host, "docker" runs it in a one-shot container.
	Executor    string `json:"executor" validate:"oneof=external docker"`
	Concurrency string `json:"concurrency" validate:"oneof=sync coroutine thread process"`
	Parallel    int    `json:"parallel" validate:"min=0"`    // 0 means one worker per CPU
	MaxPending  int    `json:"max_pending" validate:"min=0"` // 0 means unbounded
	AuroraCmd   string `json:"aurora_cmd" validate:"required"`
	DockerImage string `json:"docker_image" validate:"required_if=Executor docker"`

	LogLevel  string  `json:"log_level" validate:"oneof=debug info warn error"`
	LogFile   string  `json:"log_file"`
	RateLimit float64 `json:"rate_limit" validate:"min=0"` // requests per second, 0 disables
	RateBurst int     `json:"rate_burst" validate:"min=0"`

	// APIKey is read from APIKeyFile after loading; it never comes from the file or env directly.
	APIKey string `json:"-"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() ServiceConfig {
	return ServiceConfig{
		Port:              8888,
		MetricsPort:       9090,
		URLPrefix:         "alpha",
		ShutdownDrainWait: 5 * time.Second,
		Executor:          "external",
		Concurrency:       "process",
		AuroraCmd:         "aurora",
		LogLevel:          "info",
		RateBurst:         20,
	}
}

// Load builds the service configuration. path may be empty, in which case
// only defaults and environment variables apply. Every failure is an
// apperrors.ErrConfig error.
func Load(path string) (*ServiceConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "json"), nil); err != nil {
		return nil, apperrors.Config("defaults", err.Error())
	}

	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, apperrors.Config("config file", fmt.Sprintf("%s does not exist", path))
			}
			return nil, apperrors.Config("config file", fmt.Sprintf("%s: %v", path, err))
		}
	}

	// AURORA_REST_METRICS_PORT -> metrics_port
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, apperrors.Config("environment", err.Error())
	}

	var cfg ServiceConfig
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "json",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "json",
		},
	})
	if err != nil {
		return nil, apperrors.Config("config", err.Error())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.APIKeyFile != "" {
		cfg.APIKey = GetSecretFile(cfg.APIKeyFile)
		if cfg.APIKey == "" {
			return nil, apperrors.Config("api_key_file", fmt.Sprintf("%s is missing or empty", cfg.APIKeyFile))
		}
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names (metrics_port) instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *ServiceConfig) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		return apperrors.Config(fe.Field(), fmt.Sprintf("%v %s", fe.Value(), msg))
	}
	return apperrors.Config("config", err.Error())
}

// Addr is the listen address of the API server.
func (c *ServiceConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MetricsAddr is the listen address of the metrics server, or "" when disabled.
func (c *ServiceConfig) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.MetricsPort)
}

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/subflow/subflow/internal/types"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Pricing    PricingConfig
	Billing    BillingConfig
	Cache      CacheConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

// PricingConfig holds the default knobs for the pricing rule stack.
// Amounts are plain floats here and converted to decimals at the engine boundary.
type PricingConfig struct {
	AnnualDiscountPercent  float64 `mapstructure:"annual_discount_percent"`
	MinimumCommitment      float64 `mapstructure:"minimum_commitment"`
	MaximumDiscountPercent float64 `mapstructure:"maximum_discount_percent"`
}

// BillingConfig configures the external billing provider integration.
// When disabled, subscriptions are created without external linkage.
type BillingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	// Best effort load of a local .env file; env vars win either way
	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/subflow")

	v.SetEnvPrefix("SUBFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file is optional; defaults and env vars are enough
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.RunModeDev))
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("pricing.annual_discount_percent", 20.0)
	v.SetDefault("pricing.minimum_commitment", 5.0)
	v.SetDefault("pricing.maximum_discount_percent", 50.0)
	v.SetDefault("billing.enabled", false)
	v.SetDefault("cache.enabled", true)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

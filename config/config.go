package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/policyedge/gateway/internal/logging"
	"github.com/policyedge/gateway/internal/metrics"
)

type GatewayConfig struct {
	Server struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port int64  `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"server" json:"server"`
	Engine     EngineConfig      `mapstructure:"engine" json:"engine,omitempty"`
	Policies   PoliciesConfig    `mapstructure:"policies" json:"policies,omitempty"`
	Attributes AttributesConfig  `mapstructure:"attributes" json:"attributes,omitempty"`
	Metrics    metrics.Config    `mapstructure:"metrics" json:"metrics,omitempty"`
	HealthPort int64             `mapstructure:"health_port" json:"health_port,omitempty"`
	LogFormat  logging.LogFormat `mapstructure:"log_format" json:"log_format,omitempty"`
}

type EngineConfig struct {
	URL string `mapstructure:"url" json:"url,omitempty"`
}

type PoliciesConfig struct {
	BaseDir      string        `mapstructure:"base_dir" json:"base_dir,omitempty"`
	DynamicDir   string        `mapstructure:"dynamic_dir" json:"dynamic_dir,omitempty"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval,omitempty"`
	AutoStart    bool          `mapstructure:"auto_start" json:"auto_start,omitempty"`
}

type AttributesConfig struct {
	BackendsFile string `mapstructure:"backends_file" json:"backends_file,omitempty"`
}

// envOverrides carries the settings that container deployments prefer to
// inject through the environment instead of the config file.
type envOverrides struct {
	EngineURL    string        `envconfig:"OPA_URL"`
	BaseDir      string        `envconfig:"POLICY_BASE_DIR"`
	DynamicDir   string        `envconfig:"POLICY_DYNAMIC_DIR"`
	PollInterval time.Duration `envconfig:"POLICY_POLL_INTERVAL"`
	AutoStart    *bool         `envconfig:"AUTO_START_POLICY_MANAGER"`
}

func GetConfigure() (*GatewayConfig, error) {
	configName := os.Getenv("PG_GATEWAY_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}
	return ReadConfig(configName)
}

func ReadConfig(configName string) (*GatewayConfig, error) {
	viper.SetConfigName(configName)
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("Server.Host", "0.0.0.0")
	viper.SetDefault("Server.Port", 8080)
	viper.SetDefault("Engine.URL", "http://localhost:8181")
	viper.SetDefault("Policies.BaseDir", "policies")
	viper.SetDefault("Policies.PollInterval", "5s")
	viper.SetDefault("Policies.AutoStart", true)
	viper.SetDefault("HealthPort", 8081)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg GatewayConfig
	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *GatewayConfig) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("fail to process environment overrides: %w", err)
	}
	if env.EngineURL != "" {
		cfg.Engine.URL = env.EngineURL
	}
	if env.BaseDir != "" {
		cfg.Policies.BaseDir = env.BaseDir
	}
	if env.DynamicDir != "" {
		cfg.Policies.DynamicDir = env.DynamicDir
	}
	if env.PollInterval > 0 {
		cfg.Policies.PollInterval = env.PollInterval
	}
	if env.AutoStart != nil {
		cfg.Policies.AutoStart = *env.AutoStart
	}
	return nil
}

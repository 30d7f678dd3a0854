// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// CapitalConfig holds sizing parameters for the capital manager.
type CapitalConfig struct {
	CapitalUSDT       float64 `yaml:"capital_usdt"`
	MarginPerContract float64 `yaml:"margin_per_contract"`
	MinContracts      int     `yaml:"min_contracts"`
	MaxContractsCap   int     `yaml:"max_contracts_cap"`
	HistoryLimit      int     `yaml:"history_limit"`
}

// RealavancagemConfig holds the gate thresholds for extra leveraged exposure.
type RealavancagemConfig struct {
	Enabled            bool     `yaml:"enabled"`
	MaxExtraContracts  int      `yaml:"max_extra_contracts"`
	AllowedRegimes     []string `yaml:"allowed_regimes"`
	ForbiddenRegimes   []string `yaml:"forbidden_regimes"`
	MinConfidence      float64  `yaml:"min_confidence"`
	RequireProfitToday bool     `yaml:"require_profit_today"`
	MinProfitToday     float64  `yaml:"min_profit_today"`
	MinLiquidity       float64  `yaml:"min_liquidity"`
	MaxDisagreement    float64  `yaml:"max_disagreement"`
}

// ScalpConfig holds take-profit/stop-loss/timeout parameters for extra positions.
type ScalpConfig struct {
	TPPoints                     float64 `yaml:"tp_points"`
	SLPoints                     float64 `yaml:"sl_points"`
	PointValue                   float64 `yaml:"point_value"`
	MaxHoldSeconds               int     `yaml:"max_hold_seconds"`
	ProtectProfitAfterScalp      bool    `yaml:"protect_profit_after_scalp"`
	ProtectProfitCooldownSeconds int     `yaml:"protect_profit_cooldown_seconds"`
	EventsLimit                  int     `yaml:"events_limit"`
}

// PolicyConfig holds the online-learning parameters.
type PolicyConfig struct {
	BatchSize            int     `yaml:"batch_size"`
	FreezeThreshold      float64 `yaml:"freeze_threshold"`
	MinFreezeSamples     int     `yaml:"min_freeze_samples"`
	RewardScale          float64 `yaml:"reward_scale"`
	SnapshotHistoryLimit int     `yaml:"snapshot_history_limit"`
	EventLogLimit        int     `yaml:"event_log_limit"`
	ConservativeFraction float64 `yaml:"conservative_fraction"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds general, non-strategy-specific configuration.
type NormalConfig struct {
	MonitorIntervalSeconds   int    `yaml:"monitor_interval_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	LogDirectory             string `yaml:"log_directory"`
	StateDirectory           string `yaml:"state_directory"`
	DatabasePath             string `yaml:"database_path"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol        string               `yaml:"symbol"`
	UseSimulation bool                 `yaml:"use_simulation"`
	Capital       *CapitalConfig       `yaml:"capital"`
	Realavancagem *RealavancagemConfig `yaml:"realavancagem"`
	Scalp         *ScalpConfig         `yaml:"scalp"`
	Policy        *PolicyConfig        `yaml:"policy"`
	Logs          *LogConfig           `yaml:"logs"`
	Normal        *NormalConfig        `yaml:"normal_config"`
}

// NewConfig creates a Config with safe defaults. Strategy-critical parameters
// (capital, margin, thresholds) MUST come from config.yaml; Validate enforces that.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		Capital: &CapitalConfig{
			MinContracts: 1,
			HistoryLimit: 500,
		},
		Realavancagem: &RealavancagemConfig{
			Enabled:           false,
			MaxExtraContracts: 1,
			ForbiddenRegimes:  []string{"TRANSITION", "CHAOTIC"},
			MinConfidence:     0.6,
		},
		Scalp: &ScalpConfig{
			ProtectProfitAfterScalp:      true,
			ProtectProfitCooldownSeconds: 300,
			EventsLimit:                  1000,
		},
		Policy: &PolicyConfig{
			BatchSize:            10,
			FreezeThreshold:      -0.3,
			MinFreezeSamples:     20,
			RewardScale:          1.0,
			SnapshotHistoryLimit: 50,
			EventLogLimit:        2000,
			ConservativeFraction: 0.5,
		},
		Logs:   &LogConfig{},
		Normal: &NormalConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("Critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}

	if c.Capital == nil {
		return fmt.Errorf("Critical config missing: 'capital' configuration block must be provided in config.yaml")
	}
	if c.Capital.CapitalUSDT <= 0 {
		return fmt.Errorf("Critical config missing: 'capital.capital_usdt' must be explicitly specified in config.yaml and be positive")
	}
	if c.Capital.MarginPerContract <= 0 {
		return fmt.Errorf("Critical config missing: 'capital.margin_per_contract' must be explicitly specified in config.yaml and be positive")
	}
	if c.Capital.MinContracts < 0 {
		return fmt.Errorf("Config error: capital.min_contracts cannot be negative")
	}
	if c.Capital.MaxContractsCap <= 0 {
		return fmt.Errorf("Critical config missing: 'capital.max_contracts_cap' must be explicitly specified in config.yaml and be positive")
	}
	if c.Capital.MinContracts > c.Capital.MaxContractsCap {
		return fmt.Errorf("Config error: capital.min_contracts (%d) must not exceed capital.max_contracts_cap (%d)",
			c.Capital.MinContracts, c.Capital.MaxContractsCap)
	}

	if c.Realavancagem == nil {
		return fmt.Errorf("Critical config missing: 'realavancagem' configuration block must be provided in config.yaml")
	}
	if c.Realavancagem.Enabled {
		if c.Realavancagem.MaxExtraContracts <= 0 {
			return fmt.Errorf("Config error: realavancagem.max_extra_contracts must be positive when realavancagem is enabled")
		}
		if len(c.Realavancagem.AllowedRegimes) == 0 {
			return fmt.Errorf("Critical config missing: 'realavancagem.allowed_regimes' must be explicitly specified when realavancagem is enabled")
		}
		if c.Realavancagem.MinConfidence <= 0 || c.Realavancagem.MinConfidence > 1 {
			return fmt.Errorf("Config error: realavancagem.min_confidence must be in (0, 1]")
		}
	}

	if c.Scalp == nil {
		return fmt.Errorf("Critical config missing: 'scalp' configuration block must be provided in config.yaml")
	}
	if c.Scalp.TPPoints <= 0 {
		return fmt.Errorf("Critical config missing: 'scalp.tp_points' must be explicitly specified in config.yaml and be positive")
	}
	if c.Scalp.SLPoints <= 0 {
		return fmt.Errorf("Critical config missing: 'scalp.sl_points' must be explicitly specified in config.yaml and be positive")
	}
	if c.Scalp.PointValue <= 0 {
		return fmt.Errorf("Critical config missing: 'scalp.point_value' must be explicitly specified in config.yaml and be positive")
	}
	if c.Scalp.MaxHoldSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'scalp.max_hold_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Scalp.ProtectProfitAfterScalp && c.Scalp.ProtectProfitCooldownSeconds <= 0 {
		return fmt.Errorf("Config error: scalp.protect_profit_cooldown_seconds must be positive when protect_profit_after_scalp is enabled")
	}

	if c.Policy == nil {
		return fmt.Errorf("Critical config missing: 'policy' configuration block must be provided in config.yaml")
	}
	if c.Policy.BatchSize <= 0 {
		return fmt.Errorf("Critical config missing: 'policy.batch_size' must be explicitly specified in config.yaml and be positive")
	}
	if c.Policy.RewardScale <= 0 {
		return fmt.Errorf("Config error: policy.reward_scale must be positive (it is the reward normalization bound, see docs)")
	}
	if c.Policy.MinFreezeSamples <= 0 {
		return fmt.Errorf("Config error: policy.min_freeze_samples must be positive")
	}
	if c.Policy.ConservativeFraction <= 0 || c.Policy.ConservativeFraction >= 1 {
		return fmt.Errorf("Config error: policy.conservative_fraction must be in (0, 1)")
	}

	if c.Normal == nil {
		return fmt.Errorf("Critical config missing: 'normal_config' configuration block must be provided in config.yaml")
	}
	if c.Normal.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.monitor_interval_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.heartbeat_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.state_directory' must be explicitly specified in config.yaml (e.g., 'state')")
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' configuration block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_backups' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_age_days' must be explicitly specified in config.yaml and be positive")
	}

	return nil
}

// EnvConfig holds secrets and machine-local overrides read from the environment.
type EnvConfig struct {
	DatabasePath string
	ConfigPath   string
}

// LoadEnvConfig reads optional environment overrides (populated via .env or shell).
func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		DatabasePath: os.Getenv("REALAVANCA_DB_PATH"),
		ConfigPath:   os.Getenv("REALAVANCA_CONFIG_PATH"),
	}
}

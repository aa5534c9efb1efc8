package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Accounts  []AccountConfig `mapstructure:"accounts"`
	LogLevel  string          `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
	// GovernanceKeys is the capability set for parameter updates and contract
	// registry changes. One key is a root policy; several form an any-of set.
	GovernanceKeys []string `mapstructure:"governance_keys"`
	OperatorKey    string   `mapstructure:"operator_key"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	ContractTimeoutMs int    `mapstructure:"contract_timeout_ms"`
	ContractRetries   int    `mapstructure:"contract_retries"`
}

type RiskConfig struct {
	// MinimumCollateralAmount rejects dust collateral left on debt-free
	// positions. MinimumDebitValue rejects dust debt remainders.
	MinimumCollateralAmount  float64 `mapstructure:"minimum_collateral_amount"`
	MinimumDebitValue        float64 `mapstructure:"minimum_debit_value"`
	DefaultDebitExchangeRate float64 `mapstructure:"default_debit_exchange_rate"`
	MaxSwapSlippage          float64 `mapstructure:"max_swap_slippage"`
}

type ScannerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	LockTTLSeconds  int    `mapstructure:"lock_ttl_seconds"`
	MaxIterations   int    `mapstructure:"max_iterations"`
	NodeID          string `mapstructure:"node_id"`
	QueueSize       int    `mapstructure:"queue_size"`
}

type OracleConfig struct {
	FeedURL         string `mapstructure:"feed_url"`
	StaleAfterSecs  int    `mapstructure:"stale_after_seconds"`
	PriceCacheTTLMs int    `mapstructure:"price_cache_ttl_ms"`
}

type AssetsConfig struct {
	StableCurrency string   `mapstructure:"stable_currency"`
	Collaterals    []string `mapstructure:"collaterals"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AccountConfig struct {
	ID     string  `mapstructure:"id"`
	Name   string  `mapstructure:"name"`
	APIKey string  `mapstructure:"api_key"`
	QPS    float64 `mapstructure:"qps"`
	Burst  int     `mapstructure:"burst"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support, e.g. CDPCORE_DATABASE_DSN
	viper.SetEnvPrefix("cdpcore")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("risk.minimum_collateral_amount", 10)
	viper.SetDefault("risk.minimum_debit_value", 2)
	viper.SetDefault("risk.default_debit_exchange_rate", 0.1)
	viper.SetDefault("risk.max_swap_slippage", 0.05)
	viper.SetDefault("scanner.enabled", true)
	viper.SetDefault("scanner.interval_seconds", 60)
	viper.SetDefault("scanner.lock_ttl_seconds", 50)
	viper.SetDefault("scanner.max_iterations", 1000)
	viper.SetDefault("scanner.queue_size", 256)
	viper.SetDefault("oracle.stale_after_seconds", 120)
	viper.SetDefault("oracle.price_cache_ttl_ms", 5000)
	viper.SetDefault("assets.stable_currency", "USDS")
	viper.SetDefault("chain.contract_timeout_ms", 5000)
	viper.SetDefault("chain.contract_retries", 1)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"PodLedger/internal/consensus"
	"PodLedger/internal/logger"
	"PodLedger/internal/node"
)

// Config holds the node configuration, read from flags, environment and
// the podledger configuration file of the data directory.
type Config struct {
	DataPath    string `mapstructure:"data"`      // DataPath is the directory for persistent storage
	HTTPAddress string `mapstructure:"http"`      // HTTPAddress is the HTTP API listen address
	KeyPath     string `mapstructure:"key"`       // KeyPath is the path of the ed25519 key of the gamete
	LogLevel    string `mapstructure:"log"`       // LogLevel is the minimum level of log lines
	Bootstrap   bool   `mapstructure:"bootstrap"` // Bootstrap initializes a new chain if the store is empty

	ChainID             string `mapstructure:"chain-id"`             // ChainID names the chain at genesis
	InitialSupply       string `mapstructure:"initial-supply"`       // InitialSupply is given to the gamete at genesis
	FinalSupply         string `mapstructure:"final-supply"`         // FinalSupply is the supply the inflation converges to
	Inflation           int64  `mapstructure:"inflation"`            // Inflation is the reward inflation, in hundred millionths
	VerificationVersion uint32 `mapstructure:"verification-version"` // VerificationVersion verifies the jars at genesis

	BlockSize          int           `mapstructure:"block-size"`           // BlockSize is the number of requests of a block
	BlockInterval      time.Duration `mapstructure:"block-interval"`       // BlockInterval closes partial blocks
	Validators         string        `mapstructure:"validators"`           // Validators are rewarded at every block
	MaxPollingAttempts int           `mapstructure:"max-polling-attempts"` // MaxPollingAttempts bounds the polls for a response
	PollingDelay       time.Duration `mapstructure:"polling-delay"`        // PollingDelay is the first delay between polls
	CacheSize          int           `mapstructure:"cache-size"`           // CacheSize is the size of the request and response caches
	Workers            int           `mapstructure:"workers"`              // Workers bounds the background tasks
}

// defaultConfig returns the configuration of a local development chain.
func defaultConfig() *Config {
	nodeCfg := node.DefaultConfig()
	params := consensus.DefaultParams()

	return &Config{
		DataPath:            "./data",
		HTTPAddress:         ":8080",
		LogLevel:            "info",
		ChainID:             "podledger",
		InitialSupply:       "1000000000000000",
		FinalSupply:         "2000000000000000",
		Inflation:           params.Inflation,
		VerificationVersion: params.VerificationVersion,
		BlockSize:           100,
		BlockInterval:       time.Second,
		MaxPollingAttempts:  nodeCfg.MaxPollingAttempts,
		PollingDelay:        nodeCfg.PollingDelay,
		CacheSize:           nodeCfg.RequestCacheSize,
		Workers:             nodeCfg.Workers,
	}
}

// bindFlags registers the flags of cmd with the defaults of cfg.
func bindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()

	f.StringP("data", "d", cfg.DataPath, "Data directory path")
	f.String("http", cfg.HTTPAddress, "HTTP API address")
	f.String("key", cfg.KeyPath, "Ed25519 private key path of the gamete (generated if missing)")
	f.String("log", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.Bool("bootstrap", cfg.Bootstrap, "Initialize a new chain if the store is empty")

	f.String("chain-id", cfg.ChainID, "Chain identifier at genesis")
	f.String("initial-supply", cfg.InitialSupply, "Coins of the gamete at genesis")
	f.String("final-supply", cfg.FinalSupply, "Supply reached through inflation")
	f.Int64("inflation", cfg.Inflation, "Reward inflation, in hundred millionths")
	f.Uint32("verification-version", cfg.VerificationVersion, "Verification version at genesis")

	f.Int("block-size", cfg.BlockSize, "Requests per block")
	f.Duration("block-interval", cfg.BlockInterval, "Time before a partial block is closed")
	f.String("validators", cfg.Validators, "Validators rewarded at every block")
	f.Int("max-polling-attempts", cfg.MaxPollingAttempts, "Polls before giving up on a response")
	f.Duration("polling-delay", cfg.PollingDelay, "First delay between polls")
	f.Int("cache-size", cfg.CacheSize, "Number of cached requests and responses")
	f.Int("workers", cfg.Workers, "Background tasks running at once")
}

// loadConfig merges the configuration file and the environment into cfg.
// Flags set on the command line win.
func loadConfig(cmd *cobra.Command, cfg *Config) error {
	v := viper.New()

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("bind flags:\n%w", err)
	}

	v.SetEnvPrefix("PODLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.AddConfigPath(v.GetString("data"))
	v.SetConfigName("podledger")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config:\n%w", err)
		}

		logger.Debug("no configuration file, taking flags and defaults", "data", v.GetString("data"))
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config:\n%w", err)
	}

	return nil
}

// nodeConfig returns the configuration of the local node.
func (c *Config) nodeConfig() node.Config {
	cfg := node.DefaultConfig()
	cfg.MaxPollingAttempts = c.MaxPollingAttempts
	cfg.PollingDelay = c.PollingDelay
	cfg.RequestCacheSize = c.CacheSize
	cfg.ResponseCacheSize = c.CacheSize
	cfg.Workers = c.Workers

	return cfg
}

// genesisParams returns the consensus parameters of a new chain.
func (c *Config) genesisParams() (*consensus.Params, error) {
	initial, ok := new(big.Int).SetString(c.InitialSupply, 10)
	if !ok {
		return nil, fmt.Errorf("invalid initial supply %q", c.InitialSupply)
	}

	final, ok := new(big.Int).SetString(c.FinalSupply, 10)
	if !ok {
		return nil, fmt.Errorf("invalid final supply %q", c.FinalSupply)
	}

	p := consensus.DefaultParams()
	p.ChainID = c.ChainID
	p.InitialSupply = initial
	p.FinalSupply = final
	p.Inflation = c.Inflation
	p.VerificationVersion = c.VerificationVersion

	return p, nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}

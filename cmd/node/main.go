package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PodLedger/internal/logger"
)

func main() {
	logger.Init()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the command that runs a node.
func newRootCmd() *cobra.Command {
	cfg := defaultConfig()

	cmd := &cobra.Command{
		Use:           "podledger",
		Short:         "PodLedger node",
		Long:          "PodLedger node: executes jars, constructors and method calls against a local store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}

			return run(cfg)
		},
	}

	bindFlags(cmd, cfg)

	return cmd
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	key, err := loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	d, err := NewDaemon(cfg, key)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg, key)

	return d.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config, key ed25519.PrivateKey) {
	pubKey := key.Public().(ed25519.PublicKey)

	logger.Info("starting PodLedger node",
		"pubkey", hex.EncodeToString(pubKey),
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"bootstrap", cfg.Bootstrap,
	)

	if cfg.Bootstrap {
		logger.Info("genesis configuration",
			"chain", cfg.ChainID,
			"initial_supply", cfg.InitialSupply,
			"final_supply", cfg.FinalSupply,
		)
	}
}

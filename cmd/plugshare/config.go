package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/plugshare/internal/config"
)

var (
	configForce bool
	configRate  float64
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config with a fresh JWT secret",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configInitCmd.Flags().Float64Var(&configRate, "rate", 0, "Cost per kWh used for session charges")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}

	cfg := &config.Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Database:   config.DatabaseConfig{Driver: "sqlite", DSN: "plugshare.db"},
		Auth:       config.AuthConfig{JWTSecret: hex.EncodeToString(secret)},
		RatePerKWh: configRate,
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s\n", path)
	return nil
}

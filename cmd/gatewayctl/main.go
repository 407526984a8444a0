package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"billing-gateway/internal/config"
)

var Version = "dev"

var (
	configPath string
	devMode    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operate the billing gateway: configure gateways, manage keys, run sweeps",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config yaml")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode")

	rootCmd.AddCommand(gatewaysCmd())
	rootCmd.AddCommand(genKeyCmd())
	rootCmd.AddCommand(encryptCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, devMode)
}

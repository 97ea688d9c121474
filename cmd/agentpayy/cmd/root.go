package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/version"
)

const defaultConfigPath = "./config/agentpayy.yaml"

var (
	// Global flags
	cfgFile   string
	debugMode bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentpayy",
	Short: "AgentPayy escrow and payment coordinator",
	Long: `AgentPayy coordinates escrowed tasks between payers and workers and
tracks on-chain model payments.

This application provides the following features:
- Escrow tasks with timeout, hash and mutual release policies
- Automatic refunds of expired tasks
- Payment pre-validation against the AgentPay contract
- A payment ledger fed by PaymentProcessed events
- An HTTP API with an optional 402 paywall`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is "+defaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"force debug logging")

	rootCmd.SetVersionTemplate(`Version: {{.Version}}
`)
}

// initConfig resolves the config file path. Loading happens in the app.
func initConfig() {
	if cfgFile != "" {
		return
	}
	cfgFile = defaultConfigPath
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Default config file not found: %s\n", cfgFile)
		fmt.Fprintln(os.Stderr, "Run 'agentpayy init' to create a new configuration file")
	}
}

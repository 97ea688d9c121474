package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize coordinator configuration",
	Long: `Initialize coordinator configuration with interactive prompts.
Default values will be used if you press enter without input.
The configuration will be saved to config/agentpayy.yaml.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// initAnswers holds the prompted values.
type initAnswers struct {
	Storage    string
	SQLDriver  string
	SQLDSN     string
	RedisHost  string
	RedisPort  int
	Network    string
	RPC        string
	Contract   string
	StartBlock uint64
	HTTPPort   int
	Paywall    bool
	ModelID    string
	Price      string
	Recipient  string
}

func validateAddress(ans interface{}) error {
	s, _ := ans.(string)
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%q is not a hex address", s)
	}
	return nil
}

func validateUint(ans interface{}) error {
	s, _ := ans.(string)
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return fmt.Errorf("%q is not a non-negative integer", s)
	}
	return nil
}

func askInit(answers *initAnswers) error {
	if err := survey.AskOne(&survey.Select{
		Message: "Choose storage backend:",
		Options: []string{"redis", "sql"},
		Default: "redis",
	}, &answers.Storage); err != nil {
		return fmt.Errorf("failed to select storage: %w", err)
	}

	if answers.Storage == "sql" {
		if err := survey.Ask([]*survey.Question{
			{
				Name: "SQLDriver",
				Prompt: &survey.Select{
					Message: "Choose SQL driver:",
					Options: []string{"sqlite", "postgres"},
					Default: "sqlite",
				},
			},
			{
				Name: "SQLDSN",
				Prompt: &survey.Input{
					Message: "Enter SQL DSN:",
					Default: "file:agentpayy.db",
				},
				Validate: survey.Required,
			},
		}, answers); err != nil {
			return fmt.Errorf("failed to collect sql config: %w", err)
		}
	} else {
		if err := survey.Ask([]*survey.Question{
			{
				Name:   "RedisHost",
				Prompt: &survey.Input{Message: "Enter Redis Host:", Default: "127.0.0.1"},
			},
			{
				Name:     "RedisPort",
				Prompt:   &survey.Input{Message: "Enter Redis Port:", Default: "6379"},
				Validate: validateUint,
			},
		}, answers); err != nil {
			return fmt.Errorf("failed to collect redis config: %w", err)
		}
	}

	if err := survey.Ask([]*survey.Question{
		{
			Name:     "Network",
			Prompt:   &survey.Input{Message: "Enter network name:", Default: "base"},
			Validate: survey.Required,
		},
		{
			Name: "RPC",
			Prompt: &survey.Input{
				Message: "Enter RPC URL:",
				Default: "http://localhost:8545",
				Help:    "The RPC endpoint for this blockchain node",
			},
			Validate: survey.Required,
		},
		{
			Name:     "Contract",
			Prompt:   &survey.Input{Message: "Enter AgentPay contract address:"},
			Validate: validateAddress,
		},
		{
			Name:     "StartBlock",
			Prompt:   &survey.Input{Message: "Enter first block to index:", Default: "0"},
			Validate: validateUint,
		},
		{
			Name:     "HTTPPort",
			Prompt:   &survey.Input{Message: "Enter HTTP Port:", Default: "8080"},
			Validate: validateUint,
		},
		{
			Name:   "Paywall",
			Prompt: &survey.Confirm{Message: "Protect analytics with a 402 paywall?", Default: false},
		},
	}, answers); err != nil {
		return fmt.Errorf("failed to collect config: %w", err)
	}

	if !answers.Paywall {
		return nil
	}
	if err := survey.Ask([]*survey.Question{
		{
			Name:     "ModelID",
			Prompt:   &survey.Input{Message: "Enter paywall model id:"},
			Validate: survey.Required,
		},
		{
			Name:     "Price",
			Prompt:   &survey.Input{Message: "Enter price in token units:", Default: "0.01"},
			Validate: survey.Required,
		},
		{
			Name:     "Recipient",
			Prompt:   &survey.Input{Message: "Enter recipient address:"},
			Validate: validateAddress,
		},
	}, answers); err != nil {
		return fmt.Errorf("failed to collect paywall config: %w", err)
	}
	return nil
}

// buildConfig overlays answers on the defaults.
func buildConfig(answers *initAnswers) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = answers.Storage
	if answers.Storage == "sql" {
		cfg.Storage.SQL.Driver = answers.SQLDriver
		cfg.Storage.SQL.DSN = answers.SQLDSN
	} else {
		cfg.Redis.Host = answers.RedisHost
		cfg.Redis.Port = answers.RedisPort
	}
	cfg.Networks[answers.Network] = &config.NetworkConfig{
		RPC:           answers.RPC,
		Contract:      answers.Contract,
		TokenDecimals: config.DefaultTokenDecimals,
		StartBlock:    answers.StartBlock,
		PollInterval:  config.DefaultPollInterval,
	}
	cfg.HTTP.Port = answers.HTTPPort
	if answers.Paywall {
		cfg.Paywall = config.PaywallConfig{
			Enabled:   true,
			ModelID:   answers.ModelID,
			Price:     answers.Price,
			Recipient: answers.Recipient,
			Network:   answers.Network,
		}
	}
	return cfg
}

func writeConfig(path string, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	answers := &initAnswers{}
	if err := askInit(answers); err != nil {
		return err
	}
	if err := writeConfig(cfgFile, buildConfig(answers)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nConfiguration initialized successfully!")
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "1. Review the configuration in %s\n", cfgFile)
	fmt.Fprintln(out, "2. Start the coordinator:")
	fmt.Fprintf(out, "   agentpayy start --config %s\n", cfgFile)
	return nil
}

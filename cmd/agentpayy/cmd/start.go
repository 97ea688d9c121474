package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AgentPayy/AgentPayy-sub002/cmd/agentpayy/app"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/config"
)

const shutdownTimeout = 15 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the coordinator",
	Long: `Start the coordinator with the specified configuration.

This command will:
1. Load configuration from the specified file
2. Initialize storage, chain clients, escrow, ledger and API
3. Serve until interrupted, then shut down gracefully`,
	PreRunE: validateStartFlags,
	RunE:    runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func validateStartFlags(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s. Run 'agentpayy init' first", cfgFile)
	}
	return nil
}

// exportEnv hands the storage and metric sections to the env-configured
// constructors.
func exportEnv(cfg *config.Config) {
	redisCfg := cfg.Redis
	os.Setenv("REDIS_HOST", redisCfg.Host)
	os.Setenv("REDIS_PORT", strconv.Itoa(redisCfg.Port))
	os.Setenv("REDIS_PASSWORD", redisCfg.Password)
	os.Setenv("REDIS_DB", strconv.Itoa(redisCfg.DB))
	os.Setenv("REDIS_POOLSIZE", strconv.Itoa(redisCfg.PoolSize))

	sqlCfg := cfg.Storage.SQL
	os.Setenv("SQL_DRIVER", sqlCfg.Driver)
	os.Setenv("SQL_DSN", sqlCfg.DSN)
	os.Setenv("SQL_MAXOPENCONNS", strconv.Itoa(sqlCfg.MaxOpenConns))
	os.Setenv("SQL_MAXIDLECONNS", strconv.Itoa(sqlCfg.MaxIdleConns))
	os.Setenv("SQL_CONNMAXLIFETIME", sqlCfg.ConnMaxLifetime.String())

	os.Setenv("METRIC_PORT", strconv.Itoa(cfg.Metric.Port))
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	exportEnv(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(ctx, cfg)
	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received interrupt signal, shutting down")
	case runErr = <-errChan:
		if runErr != nil {
			runErr = fmt.Errorf("application error: %w", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return runErr
}

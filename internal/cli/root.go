// Package cli provides the command-line interface for the investigator.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/argusai/testrun-investigator/internal/client"
	"github.com/argusai/testrun-investigator/internal/config"
	"github.com/argusai/testrun-investigator/internal/service"
)

// closeTimeout bounds waiting for running tasks on exit.
const closeTimeout = 30 * time.Second

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and logger
	cfg           config.Config
	logger        *slog.Logger
	loggerCleanup func() error

	// Lazy-initialized services
	svc *service.Service
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "investigator",
	Short: "Ingest and query test-run logs",
	Long: `Investigator downloads test-run log archives (tar.zst), ingests actions.log
and raw_events.log into VictoriaLogs and queries them by run, stream and
time range.

Start VictoriaLogs first:
  docker run -d --name victoria-logs -p 9428:9428 victoriametrics/victoria-logs`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}

		logger, loggerCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		return nil
	},
}

// getService assembles the services on first use. Commands that only talk to
// a remote server never start workers.
func getService() (*service.Service, error) {
	if svc != nil {
		return svc, nil
	}
	s, err := service.New(cfg.Service(), logger)
	if err != nil {
		return nil, fmt.Errorf("init services: %w", err)
	}
	svc = s
	return svc, nil
}

// closeServices waits for running tasks and closes the log file.
func closeServices() {
	if svc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stop workers: %v\n", err)
		}
		svc = nil
	}
	if loggerCleanup != nil {
		_ = loggerCleanup()
		loggerCleanup = nil
	}
}

// connect opens a session with the investigator server.
func connect(ctx context.Context) (*client.Client, error) {
	c, err := client.Connect(ctx, cfg.ServerURL, Version)
	if err != nil {
		return nil, fmt.Errorf("%w (start one with 'investigator mcp --http :8484')", err)
	}
	return c, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// shutdown signals. Services started by the command are closed on return.
func ExecuteContext(ctx context.Context) error {
	defer closeServices()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "investigator MCP endpoint for status and tasks (default $INVESTIGATOR_SERVER_URL)")

	// Add subcommands
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "investigator %s\n", Version)
	},
}

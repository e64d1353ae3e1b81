package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stellarlink/agentfleet/internal/config"
)

var (
	baseDir string
	logger  *zap.Logger
	cfg     *config.Config
)

// rootCmd is the agentfleet CLI entry point
var rootCmd = &cobra.Command{
	Use:   "agentfleet",
	Short: "Run a fleet of autonomous coding agents",
	Long: `agentfleet launches and supervises a fleet of terminal AI coding agents
coordinated through an MCP server.

Available commands:
  up        - Launch the full agent fleet in a tmux session
  down      - Stop all agents and tear the session down
  status    - Show fleet and coordinator state
  dashboard - Serve the web dashboard`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		if baseDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			baseDir = wd
		}

		var err error
		cfg, err = config.Load(baseDir)
		if err != nil {
			return err
		}

		logger, err = newLogger(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// newLogger logs to both the fleet log file and stderr.
func newLogger(logFile string) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "project directory the fleet works in (default: cwd)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dashboardCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

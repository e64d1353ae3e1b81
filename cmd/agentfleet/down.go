package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/launcher"
	"github.com/stellarlink/agentfleet/internal/state"
	"github.com/stellarlink/agentfleet/internal/terminal"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the agent fleet",
	Long: `Stops every agent recorded in the latest launcher snapshot and tears
the terminal session down.`,
	RunE: runDown,
}

func runDown(cmd *cobra.Command, args []string) error {
	terminal.RegisterTmux(logger)
	terminal.Register(terminal.NewHeadlessBackend(filepath.Join(cfg.BaseDir, "logs"), logger))

	backend, err := terminal.Detect()
	if err != nil {
		return err
	}

	store, err := state.NewLauncherStore(cfg.DataDir)
	if err != nil {
		return err
	}

	l := launcher.New(cfg, backend, store, logger)

	snap, err := store.LoadLatest()
	switch {
	case os.IsNotExist(err):
		logger.Info("no launcher snapshot found, stopping session only")
	case err != nil:
		logger.Warn("launcher snapshot unreadable, stopping session only", zap.Error(err))
	default:
		l.Adopt(snap.Agents)
	}

	if err := l.Down(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Fleet session %q stopped.\n", cfg.SessionName)
	return nil
}

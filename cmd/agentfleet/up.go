package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlink/agentfleet/internal/github"
	"github.com/stellarlink/agentfleet/internal/launcher"
	"github.com/stellarlink/agentfleet/internal/monitor"
	"github.com/stellarlink/agentfleet/internal/state"
	"github.com/stellarlink/agentfleet/internal/terminal"
)

var upDetach bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Launch the agent fleet",
	Long: `Starts a terminal session and launches every agent the fleet config
defines, then supervises them until interrupted. With --detach the command
returns once all agents are launched and leaves the session running.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVar(&upDetach, "detach", false, "return after launch instead of supervising")
}

func runUp(cmd *cobra.Command, args []string) error {
	terminal.RegisterTmux(logger)
	terminal.Register(terminal.NewHeadlessBackend(filepath.Join(cfg.BaseDir, "logs"), logger))

	backend, err := terminal.Detect()
	if err != nil {
		return err
	}
	logger.Info("terminal backend selected", zap.String("backend", backend.Name()))

	store, err := state.NewLauncherStore(cfg.DataDir)
	if err != nil {
		return err
	}

	l := launcher.New(cfg, backend, store, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := l.Up(ctx); err != nil {
		return fmt.Errorf("fleet startup failed: %w", err)
	}
	fmt.Printf("Fleet is up in session %q. Attach with: tmux attach -t %s\n", cfg.SessionName, cfg.SessionName)

	if upDetach {
		return nil
	}

	m := monitor.New(cfg, backend, l, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if cfg.Fleet.Automation.AutoCreatePRs {
		auth := &github.AppAuth{AppID: cfg.GitHubAppID, PrivateKey: cfg.GitHubPrivateKey}
		pub, err := github.NewPublisher(auth, cfg.GitHubRepo, logger)
		if err != nil {
			return fmt.Errorf("init pull request publisher: %w", err)
		}
		ap := github.NewAutoPublisher(pub, cfg.StatePath(), cfg.Fleet.Git.BranchPrefix, logger)
		g.Go(func() error { return ap.Run(gctx) })
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	logger.Info("shutting down fleet")
	return l.Down(context.Background())
}

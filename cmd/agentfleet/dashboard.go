package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/web"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the web dashboard",
	Long: `Serves a read-only web dashboard over the coordinator state file.
The page refreshes as agents update the state.`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	watcher := web.NewStateWatcher(cfg.StatePath(), logger)
	handler, err := web.NewHandler(watcher, logger)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.DashboardPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("state watcher stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", zap.Int("port", cfg.DashboardPort))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stellarlink/agentfleet/internal/config"
	"github.com/stellarlink/agentfleet/internal/coordinator"
	"github.com/stellarlink/agentfleet/internal/state"
	"github.com/stellarlink/agentfleet/internal/worktree"
)

const version = "v1.0.0"

func main() {
	_ = godotenv.Load()

	// stdout carries the MCP transport; all logging goes to stderr.
	logger := newLogger()
	defer logger.Sync()

	baseDir, err := os.Getwd()
	if err != nil {
		logger.Fatal("resolve working directory", zap.Error(err))
	}
	if dir := os.Getenv("FLEET_BASE_DIR"); dir != "" {
		baseDir = dir
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("open state store", zap.Error(err))
	}

	coord, err := coordinator.New(store, logger)
	if err != nil {
		logger.Fatal("init coordinator", zap.Error(err))
	}

	trees, err := worktree.NewManager(baseDir, cfg.WorktreesDir(), logger)
	if err != nil {
		// Worktree support is optional: the tool reports the failure at
		// call time instead of refusing to start.
		logger.Warn("worktree support unavailable", zap.Error(err))
		trees = nil
	}

	srv := &server{
		coord:   coord,
		trees:   trees,
		baseDir: baseDir,
		log:     logger,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "agentfleet-coordinator",
		Version: version,
	}, nil)
	srv.registerTools(mcpServer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	go func() {
		if err := coord.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("background loops stopped", zap.Error(err))
		}
	}()

	logger.Info("coordinator starting on stdio transport",
		zap.String("version", version),
		zap.String("base_dir", baseDir))
	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("coordinator stopped")
}

func newLogger() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapcore.InfoLevel,
	)
	return zap.New(core)
}

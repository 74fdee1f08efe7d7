package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/mcpserver"
)

// RunMCP serves the BarterMate tools over MCP on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// stdout carries the protocol.
	if app.logOutput == os.Stdout {
		app.logOutput = os.Stderr
	}
	logger := newLogger(cfg, app.logOutput)

	c, err := newCore(ctx, cfg, events.Discard{}, logger)
	if err != nil {
		return err
	}
	defer c.shutdown()

	srv := mcpserver.New(c.service, cfg.Local.DataDir)

	g, gCtx := errgroup.WithContext(ctx)
	c.run(gCtx, g.Go)

	g.Go(func() error {
		logger.Info("mcp: serving on stdio")
		if err := srv.ServeStdio(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp: %w", err)
		}
		return errShutdown
	})

	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

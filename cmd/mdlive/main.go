// Command mdlive serves a directory or file of markdown as a
// live-reloading website.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	mdlive "github.com/lightforgemedia/go-mdlive"
	"github.com/lightforgemedia/go-mdlive/internal/cli"
	"github.com/lightforgemedia/go-mdlive/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := config.Config{}
	var configPath string

	cmd := &cobra.Command{
		Use:   "mdlive [path]",
		Short: "Serve markdown with live reload",
		Long: `mdlive serves a directory (or a single file) of markdown as HTML and
pushes a refresh to open browser tabs whenever a file changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				fileCfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config %s: %w", configPath, err)
				}
				cfg = cfg.Merge(fileCfg)
			}
			cfg = cfg.Merge(flags)
			if len(args) == 1 {
				cfg.Base = args[0]
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flags.Addr, "addr", "", "listen address (default 0.0.0.0:6464)")
	cmd.Flags().StringVar(&flags.Index, "index", "", "document the root path redirects to (default index.md)")
	cmd.Flags().IntVar(&flags.DebounceMs, "debounce", 0, "file change debounce in milliseconds (default 300)")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	cmd.Flags().BoolVar(&flags.Open, "open", false, "open the site in the browser on start")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .json or .toml)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)

	svc, err := mdlive.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Serving %s at %s (type help for commands)\n", svc.Base(), svc.URL())

	if cfg.Open {
		if err := browser.OpenURL(svc.URL()); err != nil {
			logger.Warn("Failed to open browser", "err", err)
		}
	}

	console := cli.New(svc, os.Stdin, os.Stdout, logger)
	consoleDone := make(chan error, 1)
	go func() { consoleDone <- console.Run(ctx) }()

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case err := <-consoleDone:
		if err != nil && ctx.Err() == nil {
			logger.Warn("Console stopped", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

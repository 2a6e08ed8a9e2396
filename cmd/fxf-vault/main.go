// Package main provides the fxf-vault binary entry point.
// fxf-vault tracks the fxf bundles of BigFix gather sites and records every
// published change of their fixlets.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxf-vault/internal/api"
	"github.com/fxf-vault/internal/diff"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "fxf-vault"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Patch content revision tracker",
		Long: `fxf-vault crawls BigFix gather sites, stores every version of their
fxf bundles and records each change of the fixlets they contain.

Run "seed" once to record the current bundles of every site, then
"update" (or "serve" with sync enabled) to follow new versions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		seedCmd(opts),
		updateCmd(opts),
		serveCmd(opts),
		diffCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func seedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Record the current bundles of every configured site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := a.engine()
			if err != nil {
				return err
			}

			_, err = engine.Seed(ctx)
			return err
		},
	}
}

func updateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Walk every tracked bundle up to its site's current version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := a.engine()
			if err != nil {
				return err
			}

			_, err = engine.Update(ctx)
			return err
		},
	}
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only JSON revision API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if a.cfg.Sync.Enabled {
				engine, err := a.engine()
				if err != nil {
					return err
				}
				go engine.Run(ctx, a.cfg.Sync.Interval)
				slog.Info("update loop started", slog.Duration("interval", a.cfg.Sync.Interval))
			}

			server := api.NewServer(a.cfg.Server, a.store)

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				<-sigChan

				slog.Info("shutdown signal received, stopping services")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("server shutdown failed", slog.Any("err", err))
				}
			}()

			slog.Info("starting web server", slog.String("addr", "http://"+a.cfg.Server.Address()))

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}

			slog.Info("fxf-vault stopped")
			return nil
		},
	}
}

func diffCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old-id> <new-id>",
		Short: "Print the field diff of two fixlet revisions as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid revision id %q: %w", arg, err)
				}
				ids[i] = id
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var contents [2]string
			for i, id := range ids {
				rev, err := a.store.GetFixletRevision(ctx, id)
				if err != nil {
					return err
				}
				if rev == nil {
					return fmt.Errorf("fixlet revision %d not found", id)
				}
				contents[i] = rev.Content
			}

			result, err := diff.CompareFixlets(contents[0], contents[1])
			if err != nil {
				return fmt.Errorf("failed to diff revisions: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

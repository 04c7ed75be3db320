// Package main is the entry point for the advisor web front end. The
// default command loads configuration, connects the optional stores, wires
// the plugins and serves HTTP. Maintenance and client commands hang off the
// same binary.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/advisor/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "advisor",
		Short: "Server-rendered front end for the advisor chat API",
		Long: `advisor serves the chat and timeline pages, keeps the identity
provider session in cookies, and forwards chat traffic to the backend API.

Run without a subcommand to start the HTTP server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := serveCmd()
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	rootCmd.AddCommand(
		serve,
		migrateCmd(),
		auditCmd(),
		loginCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the logger every
// command shares.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg)
	return cfg, nil
}

// setupLogging configures the global slog logger based on the environment.
// Development uses text format for readability. Production uses JSON for
// structured log aggregation. LOG_LEVEL overrides the default level.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	if cfg.LogLevel != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			level = parsed
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "advisor %s (%s)\n", version, commit)
		},
	}
}

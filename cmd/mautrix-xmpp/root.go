// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/mautrix-xmpp/pkg/connector"
	"github.com/aiku/mautrix-xmpp/pkg/matrixnet"
	"github.com/aiku/mautrix-xmpp/pkg/xmppnet"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var generateConfig bool

	rootCmd := &cobra.Command{
		Use:           Name,
		Short:         "A Matrix-XMPP bridge for a single XMPP account",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if generateConfig {
				return writeExampleConfig(cmd, configPath)
			}
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.Flags().BoolVar(&generateConfig, "generate-config", false, "write an example config to the config path and exit")
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (tag %s, commit %s, built %s)\n", Name, Version, Tag, Commit, BuildTime)
			return err
		},
	}
}

func writeExampleConfig(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, []byte(connector.ExampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote example config to %s\n", path)
	return err
}

func run(ctx context.Context, configPath string) error {
	cfg, err := connector.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	zerolog.DefaultContextLogger = log

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("name", Name).
		Str("version", Version).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting bridge")

	return connector.Supervise(ctx, *log, cfg.Bridge.RestartDelay, func() (*connector.Bridge, error) {
		contacts := xmppnet.New(cfg.XMPP, *log)
		rooms := matrixnet.New(cfg.Matrix, *log)
		return connector.NewBridge(cfg, contacts, rooms, *log), nil
	})
}

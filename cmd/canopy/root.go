package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/catalog"
	"github.com/aretw0/canopy/pkg/config"
	"github.com/spf13/cobra"
)

// defaultConfig is used when --config is not given and the file exists.
const defaultConfig = "canopy.yaml"

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "canopy routes requests through a decision tree of tools",
	Long: `canopy selects and executes tools along a branching decision tree until a
terminal tool is reached, recording every result and decision on the way.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Tree file (YAML or JSON); defaults to ./"+defaultConfig+" when present")
	rootCmd.PersistentFlags().String("preset", "", "Preset to build when the tree file declares no nodes")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	raw, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(raw)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

// loadFile reads the tree file named by --config, the default file, or
// falls back to an empty file that builds a preset.
func loadFile(cmd *cobra.Command) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfig); err == nil {
			path = defaultConfig
		}
	}

	var f *config.File
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		f = loaded
	} else {
		f = &config.File{}
		if err := f.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
	}

	if preset, _ := cmd.Flags().GetString("preset"); preset != "" {
		f.Preset = preset
	}
	return f, nil
}

// app is what every command needs to work with a configured router.
type app struct {
	file    *config.File
	router  *canopy.Router
	catalog *catalog.Catalog
	logger  *slog.Logger
}

func setup(cmd *cobra.Command, opts ...canopy.Option) (*app, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}
	f, err := loadFile(cmd)
	if err != nil {
		return nil, err
	}
	r, cat, err := config.Build(cmd.Context(), f,
		config.WithLogger(logger),
		config.WithRouterOptions(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("error building tree: %w", err)
	}
	return &app{file: f, router: r, catalog: cat, logger: logger}, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/eventbus/common/configloader"
	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/app"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	printConfig bool
}

func (o *options) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "path to config file (YAML/JSON); env EVENTBUS_* overrides it")
	fs.BoolVar(&o.printConfig, "print-config", false, "print the effective configuration on startup")
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "eventbus",
		Short:         "Normalized market-data event publisher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run publishers, HTTP endpoints and the realtime source",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration without connecting to any broker",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				if opts.printConfig {
					_ = configloader.PrintConfig(cmd.OutOrStdout(), cfg)
				}
				if err := app.Validate(cfg, logger.NewNop()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
				return nil
			},
		},
	)
	return root
}

func serve(parent context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.printConfig {
		_ = configloader.PrintConfig(os.Stdout, cfg)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("eventbus starting",
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.ServiceVersion),
	)
	return app.Run(ctx, cfg, log)
}

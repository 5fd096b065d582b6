// Package main is the cfshim command line.
//
// Usage:
//
//	cfshim serve                      # HTTP API on CFSHIM_HOST:CFSHIM_PORT
//	cfshim atob aGVsbG8h              # decode base64 like the browser shim
//	cfshim eval challenge.js          # run a script against the shim
//	cfshim get https://example.com/   # fetch a page, solving challenges
//
// Configuration comes from CFSHIM_* environment variables; flags override
// the logging settings.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/config"
	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
)

type cli struct {
	cfg    *config.Config
	logger *logging.Logger

	logLevel string
	dev      bool
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = c.logLevel
	}
	if cmd.Flags().Changed("dev") {
		cfg.Logging.Development = c.dev
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "cfshim",
		Short:             "Solve Cloudflare browser challenges without a browser",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&c.dev, "dev", false, "development logging")

	cmd.AddCommand(
		c.serveCommand(),
		c.atobCommand(),
		c.evalCommand(),
		c.getCommand(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	c := &cli{}
	err := c.newCommand().ExecuteContext(ctx)
	stop()

	if c.logger != nil {
		if err != nil {
			c.logger.Debug("command failed", zap.Error(err))
		}
		_ = c.logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

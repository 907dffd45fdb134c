// Command procurectl operates the procurement lifecycle store from the shell:
// migrations, manual transitions, sweeps and history exports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/config"
	"github.com/garyjia/procurement-lifecycle/internal/container"
	"github.com/garyjia/procurement-lifecycle/pkg/utils"
)

const (
	appName = "procurectl"
	Version = "1.0.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Operate the procurement lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		migrateCmd(opts),
		registryCmd(opts),
		transitionCmd(opts),
		deriveInvoiceCmd(opts),
		sweepCmd(opts),
		exportHistoryCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

// load reads configuration and builds the CLI logger. Background sweeping
// is always off for one-shot commands.
func (o *globalOptions) load() (*config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Sweeper.Enabled = false

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      o.logLevel,
		OutputPath: "stderr",
		Format:     "console",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// withContainer runs fn against a started container and closes it afterwards
func (o *globalOptions) withContainer(ctx context.Context, fn func(*container.Container) error) (err error) {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"catalyst-migrator/pkg/auth"
	"catalyst-migrator/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "v0.1.0"

var (
	configFile string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "catalyst-migrator",
		Short: "Migrate catalyst entities between content servers",
		Long: `Re-deploys entities from a source catalyst (or its content database) to a
target catalyst. Each entity gets a fresh timestamp, a new identity and a new
signature. Without a signing key the run is a dry run.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		migrateCmd(),
		sceneSizesCmd(),
		addressCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "catalyst-migrator %s\n", version)
		},
	}
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address derived from the configured signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if cfg.PrivateKey.Empty() {
				return &config.Error{Field: "migration_private_key", Message: "is not set"}
			}
			signer, err := auth.NewSignerFromSecret(cfg.PrivateKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Address())
			return nil
		},
	}
}

// loadConfig layers flags over the config file and environment. flagKeys
// maps config keys to the command's flag names.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	v := viper.New()
	for key, name := range flagKeys {
		if err := bindFlag(v, key, cmd.Flags().Lookup(name)); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("unknown flag for %s", key)
	}
	return v.BindPFlag(key, flag)
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

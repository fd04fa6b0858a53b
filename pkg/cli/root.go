// Package cli implements the backupstore command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/nimburion/backupstore/pkg/config"
	"github.com/nimburion/backupstore/pkg/health"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/observability/metrics"
	"github.com/nimburion/backupstore/pkg/observability/tracing"
	"github.com/nimburion/backupstore/pkg/server"
	"github.com/nimburion/backupstore/pkg/version"
	"github.com/spf13/cobra"
)

// Options customizes the root command.
type Options struct {
	Name      string
	EnvPrefix string
	// Backends overrides how store clients are built. Defaults to NewBackends.
	Backends BackendFactory
	// LogOutput receives log entries. Defaults to stderr.
	LogOutput io.Writer
}

// runtime is what every store command receives once configuration is loaded.
type runtime struct {
	cfg      *config.Config
	log      logger.Logger
	backends *Backends
	out      io.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "backupstore"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.Backends == nil {
		opts.Backends = NewBackends
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         "Back up files to S3 with a DynamoDB inventory and a distributed lease",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath, secretFilePath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	loadConfig := func(cmd *cobra.Command) (*config.Config, *config.Config, *logger.ZapLogger, error) {
		if err := applySecretFileFlag(opts.EnvPrefix, secretFilePath); err != nil {
			return nil, nil, nil, err
		}
		cfg, secrets, err := config.NewViperLoader(cfgPath, opts.EnvPrefix).WithFlags(cmd.Flags()).LoadWithSecrets()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load config: %w", err)
		}
		log, err := newLogger(cfg, opts.Name, opts.LogOutput)
		if err != nil {
			return nil, nil, nil, err
		}
		return cfg, secrets, log, nil
	}

	// withRuntime loads configuration, starts tracing and builds the backends around
	// run. Interrupts cancel the command context. Every entry logged by one invocation
	// carries the same operation ID.
	withRuntime := func(run func(ctx context.Context, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, _, zl, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.ContextWithOperationID(ctx, uuid.NewString())
			log := zl.WithContext(ctx)

			tracer, err := tracing.NewTracerProvider(ctx, cfg.Tracing)
			if err != nil {
				return fmt.Errorf("create tracer provider: %w", err)
			}
			defer func() {
				if err := tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Error("failed to shutdown tracer provider", "error", err)
				}
			}()

			backends, err := opts.Backends(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := backends.Close(); err != nil {
					log.Error("failed to close backends", "error", err)
				}
			}()

			rt := &runtime{cfg: cfg, log: log, backends: backends, out: cmd.OutOrStdout()}
			if cfg.Metrics.Enabled {
				stopServer := serveManagement(ctx, rt)
				defer stopServer()
			}
			return run(ctx, rt, args)
		}
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Current(opts.Name))
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, _, err := loadConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(newHealthCommand(withRuntime))
	rootCmd.AddCommand(newLeaseCommand(withRuntime))
	rootCmd.AddCommand(newObjectsCommand(withRuntime))
	rootCmd.AddCommand(newTableCommand(withRuntime))
	rootCmd.AddCommand(newBackupCommand(withRuntime))
	return rootCmd
}

type runtimeWrapper func(run func(ctx context.Context, rt *runtime, args []string) error) func(*cobra.Command, []string) error

func newLogger(cfg *config.Config, component string, output io.Writer) (*logger.ZapLogger, error) {
	level, err := logger.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format, Component: component, Output: output})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}

// serveManagement runs the management server in the background for the lifetime of
// the command and returns a function that stops it.
func serveManagement(ctx context.Context, rt *runtime) func() {
	srv := server.NewManagementServer(server.Config{
		Address:     rt.cfg.Metrics.Address,
		MetricsPath: rt.cfg.Metrics.Path,
	}, rt.backends.HealthRegistry(rt.cfg, rt.log), metrics.NewRegistry(), rt.log)

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(serveCtx); err != nil {
			rt.log.Error("management server stopped with error", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(envPrefix+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

// healthFailed is returned by the health command so the exit code reflects the result.
type healthFailed struct {
	status health.Status
}

func (e healthFailed) Error() string {
	return fmt.Sprintf("backends are %s", e.status)
}

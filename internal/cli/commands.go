package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crudkit/internal/api"
	"crudkit/internal/instrument"
	"crudkit/internal/logging"
	"crudkit/internal/scrub"
	"crudkit/internal/seed"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the entity API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate tables before serving")
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command, migrate bool) error {
	ctx, stop := signal.NotifyContext(opts.commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if migrate {
		if err := store.NewMigrator(s).MigrateAll(ctx, reg); err != nil {
			return err
		}
	}

	contexts, err := scrub.Build(reg)
	if err != nil {
		return err
	}

	var metrics *instrument.Metrics
	if opts.cfg.Metrics.Enabled {
		metrics = instrument.NewMetrics()
	}
	var tracer *instrument.Tracer
	if tc := opts.cfg.Tracing; tc.Enabled {
		tp, err := instrument.NewTracerProvider(ctx, instrument.TracingOptions{
			ServiceName: tc.ServiceName,
			Endpoint:    tc.Endpoint,
			Insecure:    tc.Insecure,
			SampleRatio: tc.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(flushCtx); err != nil {
				opts.logger.Warn().Err(err).Msg("flush traces")
			}
		}()
		tracer = instrument.NewTracer(tp)
		opts.logger.Info().Str("endpoint", tc.Endpoint).Msg("tracing enabled")
	}

	h := api.NewHandler(s, reg, contexts, opts.cfg.Query)
	app := api.NewApp(h, api.Options{
		Prefix:      opts.cfg.Server.Prefix,
		Logger:      logging.WithComponent(opts.logger, "http"),
		Metrics:     metrics,
		Tracer:      tracer,
		MetricsPath: opts.cfg.Metrics.Path,
		Admin:       api.NewAdminHandler(reg),
	})

	addr := net.JoinHostPort("", strconv.Itoa(opts.cfg.Server.Port))
	errc := make(chan error, 1)
	go func() {
		opts.logger.Info().Str("addr", addr).Msg("listening")
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	opts.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or extend the tables declared by the specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := rootOpts.commandContext(cmd)
			reg, s, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := store.NewMigrator(s).MigrateAll(ctx, reg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d entities\n", len(reg.Entities()))
			return nil
		},
	}
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [seed-dir]",
		Short: "Load seed files, one transaction per file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.cfg.Specs.SeedDir
			if len(args) == 1 {
				dir = args[0]
			}

			files, err := seed.LoadDir(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("no seed files in " + dir)
			}

			ctx := rootOpts.commandContext(cmd)
			reg, s, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := seed.RunFiles(ctx, s, reg, files); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d files\n", len(files))
			return nil
		},
	}
	return cmd
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [specs-dir]",
		Short: "Load and check the specs without touching the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.cfg.Specs.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			reg, err := spec.LoadDir(dir)
			if err != nil {
				return err
			}
			if _, err := scrub.Build(reg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entities, %d contexts OK\n", len(reg.Entities()), len(reg.Contexts()))
			return nil
		},
	}
}

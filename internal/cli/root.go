package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crudkit/internal/config"
	"crudkit/internal/logging"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// RootOptions holds global flags and the state every command shares.
type RootOptions struct {
	ConfigFile string

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCommand creates the root command of the crudkit CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crudkit",
		Short: "Declarative CRUD service over YAML entity specs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logging.New(logging.Options{
				Level:  cfg.Log.Level,
				Pretty: cfg.Log.Pretty,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default ./crudkit.yaml)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// commandContext returns the command context carrying the configured logger.
func (o *RootOptions) commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return o.logger.WithContext(ctx)
}

// open loads the registry and connects to the configured database.
func (o *RootOptions) open(ctx context.Context) (*spec.Registry, *store.Store, error) {
	reg, err := spec.LoadDir(o.cfg.Specs.Dir)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(ctx, o.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	o.logger.Info().
		Str("driver", s.Dialect.Name()).
		Int("entities", len(reg.Entities())).
		Msg("specs loaded, database connected")
	return reg, s, nil
}

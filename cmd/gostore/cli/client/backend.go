package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/mwantia/gostore/internal/agent"
	"github.com/mwantia/gostore/pkg/db/models"
	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/storage/kind"
	"github.com/spf13/cobra"
)

func NewBackendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Manage storage backend configurations",
		Long:  "Add, validate and remove backend configurations and switch the active backend.",
	}

	cmd.AddCommand(newBackendAddCommand())
	cmd.AddCommand(newBackendListCommand())
	cmd.AddCommand(newBackendValidateCommand())
	cmd.AddCommand(newBackendSwitchCommand())
	cmd.AddCommand(newBackendActiveCommand())
	cmd.AddCommand(newBackendRemoveCommand())

	return cmd
}

func newBackendAddCommand() *cobra.Command {
	var (
		kindKey   string
		name      string
		values    []string
		skipProbe bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a backend configuration",
		Long: `Add a backend configuration. Provider settings are passed as key=value pairs:

  gostore backend add --kind s3 --name primary \
    --set region=eu-central-1 --set bucket=files \
    --set access_key_id=... --set secret_access_key=...

The configuration is probed before it is stored unless --skip-probe is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := kind.FromKey(kindKey)
			if err != nil {
				return err
			}

			settings, err := decodeSettings(k, values)
			if err != nil {
				return err
			}
			if name == "" {
				name = k.Key()
			}

			cfg, err := models.NewBackendConfig(name, settings)
			if err != nil {
				return err
			}

			return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
				validated := false
				if !skipProbe {
					validator, err := a.Registry().Validator(k)
					if err != nil {
						return err
					}
					if !validator.Validate(ctx, cfg) {
						return gerrors.Newf(gerrors.CodeConnectionValidationFailed,
							"%s failed connection validation, use --skip-probe to store it anyway", settings)
					}
					validated = true
				}

				if err := a.Store().CreateBackendConfig(ctx, cfg); err != nil {
					return gerrors.Wrap(gerrors.CodeMetadataError, "failed to store backend configuration", err)
				}
				if validated {
					if err := a.Store().MarkBackendConfigValidated(ctx, cfg.ID); err != nil {
						a.Logger().Warn("Failed to record validation of backend %d: %v", cfg.ID, err)
					}
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Added %s backend %d (%s)\n", k.Key(), cfg.ID, settings)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kindKey, "kind", "", "provider kind (s3, gcs, azure, minio, local)")
	cmd.Flags().StringVar(&name, "name", "", "display name of the configuration")
	cmd.Flags().StringArrayVar(&values, "set", nil, "provider setting as key=value")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "store the configuration without probing it")
	cmd.MarkFlagRequired("kind")

	return cmd
}

// decodeSettings builds the settings variant of k from key=value pairs.
func decodeSettings(k kind.Kind, values []string) (models.Settings, error) {
	input := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, gerrors.Newf(gerrors.CodeInvalidArgument, "invalid setting '%s', expected key=value", value)
		}
		input[strings.TrimSpace(key)] = val
	}

	settings, err := models.NewSettings(k)
	if err != nil {
		return nil, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           settings,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return nil, gerrors.Wrap(gerrors.CodeInvalidArgument, fmt.Sprintf("invalid %s settings", k.Key()), err)
	}

	return settings, settings.Validate()
}

func newBackendListCommand() *cobra.Command {
	var kindKey string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List backend configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
				var configs []models.BackendConfig
				var err error
				if kindKey != "" {
					k, kerr := kind.FromKey(kindKey)
					if kerr != nil {
						return kerr
					}
					configs, err = a.Store().ListBackendConfigsByKind(ctx, k)
				} else {
					configs, err = a.Store().ListBackendConfigs(ctx)
				}
				if err != nil {
					return gerrors.Wrap(gerrors.CodeMetadataError, "failed to list backend configurations", err)
				}

				state, hasActive := a.Switch().Active()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tNAME\tVALIDATED\tACTIVE")
				for _, cfg := range configs {
					validated := "never"
					if cfg.ValidatedAt != nil {
						validated = humanize.Time(*cfg.ValidatedAt)
					}
					mark := ""
					if hasActive && state.BackendID == cfg.ID {
						mark = "*"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", cfg.ID, cfg.Kind.Key(), cfg.Name, validated, mark)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&kindKey, "kind", "", "only list configurations of this kind")

	return cmd
}

func newBackendValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Probe a backend configuration",
		Long:  "Probes the backend configuration with a read-only round-trip without activating it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
				cfg, err := a.Store().GetBackendConfig(ctx, id)
				if err != nil {
					return storeErr(err, id)
				}

				validator, err := a.Registry().Validator(cfg.Kind)
				if err != nil {
					return err
				}
				if !validator.Validate(ctx, cfg) {
					return gerrors.Newf(gerrors.CodeConnectionValidationFailed,
						"%s backend %d failed connection validation", cfg.Kind.Key(), id)
				}

				if err := a.Store().MarkBackendConfigValidated(ctx, id); err != nil {
					return storeErr(err, id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s backend %d is reachable\n", cfg.Kind.Key(), id)
				return nil
			})
		},
	}

	return cmd
}

func newBackendSwitchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <kind> <id>",
		Short: "Switch the active backend",
		Long:  "Validates the backend configuration and makes it the active backend. On failure the previous backend stays active.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := kind.FromKey(args[0])
			if err != nil {
				return err
			}
			id, err := parseID(args[1])
			if err != nil {
				return err
			}

			return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
				state, err := a.Switch().SwitchTo(ctx, k, id)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Active backend is now %s/%d\n", state.Kind.Key(), state.BackendID)
				return nil
			})
		},
	}

	return cmd
}

func newBackendActiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the active backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
				state, ok := a.Switch().Active()
				if !ok {
					return gerrors.ErrNoBackendConfigured
				}

				record, err := a.Store().GetActiveBackend(ctx)
				if err != nil {
					return storeErr(err, state.BackendID)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) backend %d, active since %s\n",
					state.Kind.DisplayName(), state.Kind.Key(), state.BackendID, humanize.Time(record.CreatedAt))
				return nil
			})
		},
	}

	return cmd
}

func newBackendRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a backend configuration",
		Long:  "Removes a backend configuration. The active backend cannot be removed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withAgent(cmd, func(ctx context.Context, a *agent.GoStoreAgent) error {
				if err := a.Store().DeleteBackendConfig(ctx, id); err != nil {
					return storeErr(err, id)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Removed backend %d\n", id)
				return nil
			})
		},
	}

	return cmd
}

func parseID(value string) (uint, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return 0, gerrors.Newf(gerrors.CodeInvalidArgument, "invalid id '%s'", value)
	}
	return uint(id), nil
}

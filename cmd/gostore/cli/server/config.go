package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	config "github.com/mwantia/gostore/internal/config/server"
	"github.com/mwantia/gostore/pkg/db/migrations"
	"github.com/mwantia/gostore/pkg/db/store"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
		Long: `Manage GoStore Agent configuration files.

This command provides utilities for generating, validating, and 
managing configuration files for different environments.`,
	}

	cmd.AddCommand(newConfigGenerateCommand())
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigMigrateCommand())

	return cmd
}

func newConfigMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or revert metadata schema migrations",
		Long: `Operates on the metadata database configured under metadata.sqlite.path,
or the file given with --db. The agent applies pending migrations on start.`,
	}

	cmd.PersistentFlags().String("db", "", "metadata database file (defaults to metadata.sqlite.path)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetadataStore(cmd, func(ctx context.Context, s *store.SQLiteStore) error {
				statuses, err := s.MigrationStatus(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
				for _, status := range statuses {
					applied := "pending"
					if status.Applied {
						applied = humanize.Time(time.Unix(status.AppliedAt, 0))
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", status.Version, status.Description, applied)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback",
		Short: "Revert the latest applied migration",
		Long: `Reverts the most recently applied migration. Rolling back the initial schema
drops every metadata table. The agent re-applies pending migrations on its next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetadataStore(cmd, func(ctx context.Context, s *store.SQLiteStore) error {
				migration, err := s.Rollback(ctx)
				if errors.Is(err, migrations.ErrNothingToRollback) {
					fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied, nothing to roll back")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back migration %d (%s)\n", migration.Version, migration.Description)
				return nil
			})
		},
	})

	return cmd
}

// withMetadataStore opens the metadata database without migrating it.
func withMetadataStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.SQLiteStore) error) error {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			return fmt.Errorf("failed to load server configuration: %w", err)
		}
		dbPath = cfg.Metadata.SQLite.Path
	}

	s, err := store.NewSQLiteStore(store.SQLiteConfig{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to create metadata store: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect metadata store '%s': %w", dbPath, err)
	}
	defer s.Close()

	return fn(ctx, s)
}

func newConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the loaded configuration",
		Long: `Loads the configuration the agent would use and checks the metadata store
type and every duration setting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			durations := map[string]string{
				"shutdown_timeout":         cfg.ShutdownTimeout,
				"pool.borrow_timeout":      cfg.Pool.BorrowTimeout,
				"storage.validate_timeout": cfg.Storage.ValidateTimeout,
				"storage.preview_expiry":   cfg.Storage.PreviewExpiry,
			}
			for key, value := range durations {
				if _, err := time.ParseDuration(value); err != nil {
					return fmt.Errorf("invalid duration '%s' for '%s': %w", value, key, err)
				}
			}

			if cfg.Pool.MaxTotal <= 0 {
				return fmt.Errorf("pool.max_total must be positive, got %d", cfg.Pool.MaxTotal)
			}
			if cfg.Pool.MinIdle > cfg.Pool.MaxIdle {
				return fmt.Errorf("pool.min_idle (%d) exceeds pool.max_idle (%d)", cfg.Pool.MinIdle, cfg.Pool.MaxIdle)
			}

			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Printf("Configuration %s is valid\n", used)
			} else {
				fmt.Println("No configuration file found, defaults are valid")
			}
			return nil
		},
	}

	return cmd
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate example configuration files",
		Long: `Generate example configuration files for different environments.

This command creates configuration templates that can be customized
for your specific deployment requirements.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			fmt.Printf("Generating configuration files (output: %s)\n", outputDir)

			// Create output directory if it doesn't exist
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			filename := filepath.Join(outputDir, "gostore.yaml")

			// Check if file exists and overwrite flag
			if _, err := os.Stat(filename); err == nil && !overwrite {
				fmt.Printf("Skipping %s (file exists, use --overwrite to replace)\n", filename)
				return nil
			}

			cfg := config.GetServerDefault()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			if err := os.WriteFile(filename, data, 0644); err != nil {
				return fmt.Errorf("failed to write config file %s: %w", filename, err)
			}

			fmt.Printf("Generated %s\n", filename)

			fmt.Println("Configuration generation complete!")
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for configuration files")
	cmd.Flags().Bool("overwrite", false, "overwrite existing files")

	return cmd
}

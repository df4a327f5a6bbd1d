package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cardio-risk-server/internal/config"
	"github.com/cardio-risk-server/internal/database"
	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/logging"
	"github.com/cardio-risk-server/internal/middleware"
	"github.com/cardio-risk-server/internal/modelstore"
	"github.com/cardio-risk-server/internal/repository"
	"github.com/cardio-risk-server/internal/service"
)

// cliLogger keeps command output on stdout and logs on stderr
func cliLogger(cfg *domain.Config) *logrus.Logger {
	if cfg == nil {
		return logging.NewStderr("warn", "text")
	}
	return logging.NewStderr(cfg.Logging.Level, "text")
}

func loadConfig() (*config.Manager, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return manager, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withRunner := func(cmd *cobra.Command, fn func(*database.MigrationRunner) error) error {
		dir, _ := cmd.Flags().GetString("dir")
		manager, err := loadConfig()
		if err != nil {
			return err
		}
		if dir == "" {
			dir = manager.GetDatabaseConfig().MigrationsPath
		}
		runner, err := database.NewMigrationRunner(manager.GetDatabaseURL(), dir, cliLogger(manager.GetConfig()))
		if err != nil {
			return err
		}
		defer runner.Close()
		return fn(runner)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *database.MigrationRunner) error {
				if err := r.Up(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if confirm, _ := cmd.Flags().GetBool("yes"); !confirm {
				return fmt.Errorf("refusing to roll back without --yes")
			}
			return withRunner(cmd, func(r *database.MigrationRunner) error {
				if err := r.Down(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back.")
				return nil
			})
		},
	}
	downCmd.Flags().Bool("yes", false, "Confirm the rollback")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *database.MigrationRunner) error {
				version, dirty, err := r.Version()
				if err != nil {
					return fmt.Errorf("failed to read migration version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, downCmd, versionCmd} {
		c.Flags().String("dir", "", "Path to migrations directory (defaults to database.migrations_path)")
		cmd.AddCommand(c)
	}
	return cmd
}

func exportRetrainingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-retraining",
		Short: "Export stored assessments as a labelled CSV dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitals, _ := cmd.Flags().GetStringSlice("hospital")
			out, _ := cmd.Flags().GetString("out")
			sqlitePath, _ := cmd.Flags().GetString("sqlite")
			if len(hospitals) == 0 {
				return fmt.Errorf("at least one --hospital is required")
			}

			ctx := cmd.Context()
			store, logger, cleanup, err := openStore(ctx, sqlitePath)
			if err != nil {
				return err
			}
			defer cleanup()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			rows, err := service.NewRetrainingExporter(logger, store).Export(ctx, w, hospitals...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d rows.\n", rows)
			return nil
		},
	}
	cmd.Flags().StringSlice("hospital", nil, "Hospital id to export (repeatable)")
	cmd.Flags().String("out", "", "Output CSV file (default stdout)")
	cmd.Flags().String("sqlite", "", "Read from a lite SQLite store instead of Postgres")
	return cmd
}

// openStore opens the lite SQLite store when path is set, otherwise the configured Postgres
func openStore(ctx context.Context, sqlitePath string) (domain.Store, *logrus.Logger, func(), error) {
	if sqlitePath != "" {
		logger := cliLogger(nil)
		store, err := repository.NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, logger, func() { store.Close() }, nil
	}

	manager, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cliLogger(manager.GetConfig())
	db, err := database.NewConnection(ctx, *manager.GetDatabaseConfig(), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return repository.NewPostgresStore(db.Pool, logger), logger, db.Close, nil
}

func inspectModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect-model",
		Short: "Load a model artifact and print its version and top features",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			credentials, _ := cmd.Flags().GetString("credentials")
			if uri == "" {
				return fmt.Errorf("--uri is required")
			}

			model, err := modelstore.Load(cmd.Context(), domain.ModelConfig{
				ArtifactURI:     uri,
				CredentialsFile: credentials,
			}, cliLogger(nil))
			if err != nil {
				return err
			}

			version := model.Version()
			if version == "" {
				version = "unversioned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\n", version)
			fmt.Fprintln(cmd.OutOrStdout(), "top factors:")
			for _, f := range service.TopFactors(model.FeatureImportances(), service.DefaultTopFactors) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-14s %.4f\n", f.Feature, f.Importance)
			}
			return nil
		},
	}
	cmd.Flags().String("uri", "", "Artifact path or gs://bucket/object")
	cmd.Flags().String("credentials", "", "Service account file for gs:// artifacts")
	return cmd
}

func issueTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a hospital bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospital, _ := cmd.Flags().GetString("hospital")
			subject, _ := cmd.Flags().GetString("subject")
			if hospital == "" {
				return fmt.Errorf("--hospital is required")
			}

			manager, err := loadConfig()
			if err != nil {
				return err
			}
			authCfg := manager.GetConfig().Auth
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			token, err := middleware.NewTokenService(authCfg).Issue(hospital, subject, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("hospital", "", "Hospital id carried by the token")
	cmd.Flags().String("subject", "", "Staff member the token is issued to")
	return cmd
}

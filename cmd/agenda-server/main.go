package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/odontoagenda/agenda/internal/config"
	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/domain/identity"
	"github.com/odontoagenda/agenda/internal/platform/auth"
	"github.com/odontoagenda/agenda/internal/platform/db"
	"github.com/odontoagenda/agenda/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "agenda-server",
		Short:        "Dental clinic appointment scheduling API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openMigrator() (*db.Migrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewMigrator(cfg.DatabaseURL, migrations.FS)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			changed, err := m.Up()
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending migrations")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Down()
		},
	}

	statusCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Show the schema version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			st, err := m.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %d\n", st.Version)
			if st.Dirty {
				fmt.Fprintln(out, "state:   dirty (fix the failed migration, then run `migrate force`)")
			}
			fmt.Fprintf(out, "pending: %v\n", st.Pending)
			return nil
		},
	}

	forceCmd := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Force(v)
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd, forceCmd)
	return cmd
}

// withIdentity opens a short-lived pool for CLI commands that touch actors.
func withIdentity(ctx context.Context, fn func(cfg *config.Config, svc *identity.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := identity.NewService(identity.NewActorRepo(pool), identity.NewPatientRepo(pool), newLogger(cfg))
	return fn(cfg, svc)
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage practitioners and administrators",
	}

	var (
		name     string
		role     string
		inactive bool
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register an actor (the first one must be an administrator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(_ *config.Config, svc *identity.Service) error {
				active := !inactive
				a, err := svc.RegisterActor(cmd.Context(), identity.CreateActorRequest{
					Name:   name,
					Role:   access.Role(role),
					Active: &active,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", a.ID, a.Role, a.Name)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "display name")
	createCmd.Flags().StringVar(&role, "role", string(access.RolePractitioner), "practitioner or administrator")
	createCmd.Flags().BoolVar(&inactive, "inactive", false, "create the actor deactivated")
	_ = createCmd.MarkFlagRequired("name")

	cmd.AddCommand(createCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API tokens",
	}

	var (
		actorID string
		ttl     time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for an existing actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(actorID)
			if err != nil {
				return fmt.Errorf("invalid --actor: %w", err)
			}
			return withIdentity(cmd.Context(), func(cfg *config.Config, svc *identity.Service) error {
				if cfg.JWTSigningKey == "" {
					return fmt.Errorf("JWT_SIGNING_KEY is required to issue tokens")
				}
				actor, err := svc.Lookup(cmd.Context(), id)
				if err != nil {
					return err
				}
				token, err := auth.IssueToken(jwtConfig(cfg), actor, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	issueCmd.Flags().StringVar(&actorID, "actor", "", "actor id (subject)")
	issueCmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = issueCmd.MarkFlagRequired("actor")

	cmd.AddCommand(issueCmd)
	return cmd
}

// Command agentiqctl is the operator CLI: schema migrations, stale-job
// sweeps, ad-hoc enrichment, API key bootstrap and job health.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/agentiq/internal/app"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/internal/jobs"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	envFile string
	verbose bool
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "agentiqctl",
		Short: "Operate an AgentIQ enrichment deployment",
		Long: `agentiqctl talks directly to the database, cache and queue configured in
the environment (or a .env file). It is meant for operators, not end users.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at info level")

	root.AddCommand(
		c.migrateCmd(),
		c.sweepCmd(),
		c.healthCmd(),
		c.enrichCmd(),
		c.keysCmd(),
	)
	return root
}

func (c *cli) load() error {
	if c.verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return nil
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := store.RunMigrations(c.cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck in queued or running past the staleness threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeStore, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			cc, _, err := app.OpenCache(ctx, c.cfg.Redis)
			if err != nil {
				return err
			}
			defer cc.Close()

			if staleAfter <= 0 {
				staleAfter = c.cfg.Jobs.StaleAfter
			}
			ids, err := jobs.NewSweeper(st, cc, staleAfter, 0).SweepOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "failed %d stale job(s)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "override JOBS_STALE_AFTER")
	return cmd
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print job counts by state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeStore, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			h, err := st.JobHealth(ctx, time.Now().Add(-c.cfg.Jobs.StaleAfter))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), h)
		},
	}
}

func (c *cli) enrichCmd() *cobra.Command {
	var website, tenant string
	cmd := &cobra.Command{
		Use:   "enrich <company>",
		Short: "Research one company with the configured model and print the result",
		Long: `Runs the enrichment agent once, outside any job. The result is stored under
the given tenant (the default tenant when omitted) and printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := app.Open(ctx, c.cfg, app.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()

			tenantID, err := resolveTenant(ctx, rt.Store, tenant)
			if err != nil {
				return err
			}
			result, err := rt.Jobs.EnrichSingle(ctx, tenantID, args[0], website)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&website, "website", "", "website hint for the company")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID (defaults to the default tenant)")
	return cmd
}

func (c *cli) openStore(ctx context.Context) (*store.PostgresStore, func(), error) {
	pool, err := store.Connect(ctx, c.cfg.Database, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

type tenantStore interface {
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)
}

// resolveTenant parses raw, or looks up the default tenant when raw is empty.
func resolveTenant(ctx context.Context, st tenantStore, raw string) (uuid.UUID, error) {
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --tenant: %w", err)
		}
		return id, nil
	}
	t, err := st.GetDefaultTenant(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("look up default tenant: %w", err)
	}
	return t.ID, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iqrahapp/iqrah-mobile-sub001/catalog"
	"github.com/iqrahapp/iqrah-mobile-sub001/config"
	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
	iqrahlogger "github.com/iqrahapp/iqrah-mobile-sub001/logger"
	"github.com/iqrahapp/iqrah-mobile-sub001/migrations"
	"github.com/iqrahapp/iqrah-mobile-sub001/propagation"
	"github.com/iqrahapp/iqrah-mobile-sub001/review"
	"github.com/iqrahapp/iqrah-mobile-sub001/runtime"
	"github.com/iqrahapp/iqrah-mobile-sub001/scheduler"
	"github.com/iqrahapp/iqrah-mobile-sub001/srs"
	"github.com/iqrahapp/iqrah-mobile-sub001/store"
)

const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	logFile    string
	pretty     bool
	dbDriver   string
	dbDSN      string

	cfg    *config.Config
	logger zerolog.Logger
}

// components is the wired scheduling stack.
type components struct {
	store     *store.Store
	processor *review.Processor
	bandit    *scheduler.Bandit
	service   *scheduler.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "iqrah",
		Short:             "Spaced-repetition scheduler for Quran memorisation",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.GetConfigPath(), "Path to config file")
	pf.StringVar(&a.logFile, "logfile", "", "Path to log file. If not set, logs to stdout")
	pf.BoolVar(&a.pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")
	pf.StringVar(&a.dbDriver, "db-driver", "", "Database driver (sqlite3 or postgres)")
	pf.StringVar(&a.dbDSN, "db", "", "Database DSN or sqlite file path")
	root.MarkFlagsMutuallyExclusive("logfile", "pretty")

	root.AddCommand(
		a.migrateCmd(),
		a.importCmd(),
		a.reviewCmd(),
		a.sessionCmd(),
		a.rewardCmd(),
		a.sweepCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.dbDriver != "" {
		cfg.Database.Driver = a.dbDriver
	}
	if a.dbDSN != "" {
		cfg.Database.DSN = a.dbDSN
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	if a.pretty {
		cfg.Log.File = ""
		cfg.Log.Pretty = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = iqrahlogger.InitWithOptions(cfg.Log.File, cfg.Log.Pretty, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger.Debug().
		Str("command", cmd.Name()).
		Str("config", a.configPath).
		Str("driver", cfg.Database.Driver).
		Msg("iqrah starting")
	return nil
}

// openStore opens the configured database and brings its schema up to date
// unless migrations are disabled and force is false.
func (a *app) openStore(ctx context.Context, force bool) (*store.Store, error) {
	db := a.cfg.Database
	dsn := db.DSN
	if db.Driver == store.DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqliteParams
		}
	}

	a.logger.Info().Str("driver", db.Driver).Msg("Opening database")
	st, err := store.Open(ctx, db.Driver, dsn, a.logger, store.WithBatchSize(db.BatchSize))
	if err != nil {
		return nil, err
	}
	if force || !db.SkipMigrations {
		if err := migrations.RunMigrations(st.DB(), db.Driver, a.logger); err != nil {
			_ = st.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return st, nil
}

func (a *app) wire(ctx context.Context) (*components, error) {
	st, err := a.openStore(ctx, false)
	if err != nil {
		return nil, err
	}

	model, err := srs.NewFSRS(a.cfg.SRS)
	if err != nil {
		_ = st.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("failed to create memory model: %w", err)
	}
	engine := propagation.NewEngine(st, a.cfg.Propagation, a.logger)
	processor := review.NewProcessor(st, model, engine, a.cfg.Review, a.logger)

	sc := a.cfg.Scheduler
	bandit := scheduler.NewBandit(st, a.logger, scheduler.WithBlendWeight(sc.BlendWeight))
	service, err := scheduler.NewService(
		scheduler.NewAggregator(st, st, sc.BatchSize, a.logger),
		bandit,
		scheduler.NewComposer(sc.Composer, a.logger),
		st, sc, a.logger,
	)
	if err != nil {
		_ = st.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &components{store: st, processor: processor, bandit: bandit, service: service}, nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // No remedy for db close errors
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.yaml>",
		Short: "Load items, goals and graph edges from a YAML content bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0]) //#nosec G304 -- user-selected bundle
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck // Read-only file

			bundle, err := catalog.Read(f)
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // No remedy for db close errors

			stats, err := catalog.Import(cmd.Context(), st, bundle, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items, %d goals, %d edges\n", stats.Items, stats.Goals, stats.Edges)
			return nil
		},
	}
}

func (a *app) reviewCmd() *cobra.Command {
	var userID, itemID, grade string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Record a review and update memory state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := domain.ParseGrade(grade)
			if err != nil {
				return err
			}
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer c.store.Close() //nolint:errcheck // No remedy for db close errors

			res, err := c.processor.Process(cmd.Context(), userID, itemID, g)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rec := res.Record
			fmt.Fprintf(out, "%s %s: energy %.3f (%+.3f), stability %.2fd, due %s\n",
				rec.ItemID, g, rec.Energy, res.EnergyDelta, rec.Stability, rec.DueAt.Format("2006-01-02 15:04"))
			if res.Propagation != nil {
				for _, u := range res.Propagation.Updates {
					fmt.Fprintf(out, "  -> %s energy %.3f -> %.3f\n", u.ItemID, u.OldEnergy, u.NewEnergy)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&itemID, "item", "", "Item id")
	cmd.Flags().StringVar(&grade, "grade", "", "Grade: again, hard, good, easy (or 1-4)")
	for _, f := range []string{"user", "item", "grade"} {
		_ = cmd.MarkFlagRequired(f) //nolint:errcheck // Flag exists
	}
	return cmd
}

func (a *app) sessionCmd() *cobra.Command {
	var (
		userID, goalID, mode, profile string
		size                          int
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Generate the next study session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := scheduler.SessionRequest{
				UserID: userID,
				GoalID: goalID,
				Size:   size,
				Mode:   domain.SessionMode(mode),
			}
			if profile != "" {
				p, ok := scheduler.ProfileByName(profile)
				if !ok {
					return fmt.Errorf("unknown profile %q (want one of %s)", profile, strings.Join(scheduler.PresetNames(), ", "))
				}
				req.Profile = &p
			}

			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer c.store.Close() //nolint:errcheck // No remedy for db close errors

			rec, err := c.service.NextSession(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %d (%s, profile %q, %d items)\n", rec.ID, rec.Mode, rec.ProfileName, len(rec.Items))
			for _, id := range rec.Items {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&goalID, "goal", "", "Goal id, e.g. surah:1")
	cmd.Flags().IntVar(&size, "size", 0, "Session size (0 uses the configured size)")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeMixedLearning), "revision or mixed_learning")
	cmd.Flags().StringVar(&profile, "profile", "", "Fixed weighting profile; bypasses the bandit")
	_ = cmd.MarkFlagRequired("user") //nolint:errcheck // Flag exists
	_ = cmd.MarkFlagRequired("goal") //nolint:errcheck // Flag exists
	return cmd
}

func (a *app) rewardCmd() *cobra.Command {
	var (
		userID, group, profile string
		reward                 float64
	)
	cmd := &cobra.Command{
		Use:   "reward",
		Short: "Record a session reward for a bandit arm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer c.store.Close() //nolint:errcheck // No remedy for db close errors

			return c.bandit.RecordReward(cmd.Context(), userID, group, profile, reward)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&group, "goal-group", "", "Goal group, e.g. surah")
	cmd.Flags().StringVar(&profile, "profile", "", "Profile (arm) name")
	cmd.Flags().Float64Var(&reward, "reward", 0, "Reward in [0,1]")
	for _, f := range []string{"user", "goal-group", "profile", "reward"} {
		_ = cmd.MarkFlagRequired(f) //nolint:errcheck // Flag exists
	}
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Score finished sessions and feed rewards to the bandit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer c.store.Close() //nolint:errcheck // No remedy for db close errors

			sweeper, err := runtime.NewRewardSweeper(c.store, c.bandit, a.cfg.Sweeper, a.logger)
			if err != nil {
				return err
			}
			if once {
				stats, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, rewarded %d, failed %d\n", stats.Scanned, stats.Rewarded, stats.Failed)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			sweeper.Start(ctx)
			a.logger.Info().Msg("Sweeper shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")
	return cmd
}

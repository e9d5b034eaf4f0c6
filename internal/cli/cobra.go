package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jashan-lco/banzai/internal/config"
	"github.com/jashan-lco/banzai/internal/configdb"
	"github.com/jashan-lco/banzai/internal/dateutil"
	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/ingest"
	"github.com/jashan-lco/banzai/internal/observations"
	"github.com/jashan-lco/banzai/internal/qc"
	"github.com/jashan-lco/banzai/internal/queue"
	"github.com/jashan-lco/banzai/internal/scheduler"
	"github.com/jashan-lco/banzai/internal/server"
	"github.com/jashan-lco/banzai/internal/stacking"
)

const version = "1.0.0"

// Root wires CLI commands to the pipeline components.
type Root struct {
	cfg   *config.Config
	log   *slog.Logger
	store *db.Store
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *db.Store) *cobra.Command {
	root := &Root{cfg: cfg, log: log, store: store}

	rootCmd := &cobra.Command{
		Use:   "banzai",
		Short: "Banzai reduces telescope data and schedules calibration stacking",
		Long: `Banzai ingests raw camera exposures, tracks per-instrument calibration
frames, and schedules periodic recomputation of master calibration frames
from recent observation blocks.`,
	}

	rootCmd.AddCommand(newInitDBCmd(root))
	rootCmd.AddCommand(newSyncInstrumentsCmd(root))
	rootCmd.AddCommand(newScheduleCmd(root))
	rootCmd.AddCommand(newDaemonCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newIngestCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// components assembles the queue, stacker, and scheduler from config.
func (r *Root) components(ctx context.Context) (*queue.Queue, *scheduler.Scheduler) {
	cal := r.cfg.Calibrations
	builder := stacking.NewCatalogMasterBuilder(r.store, r.cfg.Ingest.RawDataDir)
	stacker := stacking.NewStacker(r.store, builder, cal.MinImagesToStack,
		time.Duration(cal.RetryDelay)*time.Second, r.log)
	q := queue.New(ctx, cal.Workers, stacker, r.store, cal.MaxRetries, r.log)

	blocks := observations.NewClient(r.cfg.Observations.PortalAddress,
		time.Duration(r.cfg.Observations.TimeoutSeconds)*time.Second)
	sched := scheduler.New(r.store, blocks, q, cal, r.log)
	return q, sched
}

func newInitDBCmd(root *Root) *cobra.Command {
	var syncInstruments bool

	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create the catalog schema",
		Long: `Initialize the calibration catalog database. Optionally populate the
telescopes table from the instrument configuration source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Schema creation already ran when the store was opened.
			root.log.Info("catalog schema ensured", "path", root.cfg.Database.Path)
			if !syncInstruments {
				return nil
			}
			client := configdb.NewClient(root.cfg.Observations.ConfigDBAddress,
				time.Duration(root.cfg.Observations.TimeoutSeconds)*time.Second)
			added, err := configdb.SyncTelescopeTable(cmd.Context(), client, root.store)
			if err != nil {
				return err
			}
			root.log.Info("telescope table populated", "instruments_added", added)
			return nil
		},
	}

	cmd.Flags().BoolVar(&syncInstruments, "sync-instruments", false, "Populate telescopes from the configdb")
	return cmd
}

func newSyncInstrumentsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-instruments",
		Short: "Sync the telescope table against the instrument configuration source",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := configdb.NewClient(root.cfg.Observations.ConfigDBAddress,
				time.Duration(root.cfg.Observations.TimeoutSeconds)*time.Second)
			added, err := configdb.SyncTelescopeTable(cmd.Context(), client, root.store)
			if err != nil {
				return err
			}
			root.log.Info("instrument sync complete", "instruments_added", added)
			return nil
		},
	}
}

func newScheduleCmd(root *Root) *cobra.Command {
	var (
		site    string
		minDate string
		maxDate string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run one calibration stacking scheduling pass for a site",
		Long: `Fetch observation blocks for the site and time window, and enqueue one
stacking task per instrument and calibration type with at least one
matching block. The process stays alive until all enqueued tasks settle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			minT, err := dateutil.Parse(minDate)
			if err != nil {
				return fmt.Errorf("invalid --min-date: %w", err)
			}
			maxT, err := dateutil.Parse(maxDate)
			if err != nil {
				return fmt.Errorf("invalid --max-date: %w", err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			q, sched := root.components(ctx)
			defer q.Stop()

			if err := sched.ScheduleStacking(ctx, site, minT, maxT); err != nil {
				return err
			}

			// Armed countdowns outlive the scheduling pass; drain them
			// before the deferred Stop cancels the queue.
			q.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "Site code (e.g. coj)")
	cmd.Flags().StringVar(&minDate, "min-date", "", "Window start, "+dateutil.TimestampLayout)
	cmd.Flags().StringVar(&maxDate, "max-date", "", "Window end, "+dateutil.TimestampLayout)
	cmd.MarkFlagRequired("site")
	cmd.MarkFlagRequired("min-date")
	cmd.MarkFlagRequired("max-date")
	return cmd
}

func newDaemonCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler loop, ingest watcher, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(root.cfg.Scheduler.Sites) == 0 {
				return fmt.Errorf("no sites configured for the scheduler")
			}

			ctx, cancel := signalContext()
			defer cancel()

			q, sched := root.components(ctx)
			defer q.Stop()

			if len(root.cfg.Ingest.WatchDirs) > 0 {
				checker := qc.NewHeaderChecker(root.log)
				ingester := ingest.NewIngester(root.store, checker, root.cfg.Calibrations.FrameTypes, root.log)
				watcher, err := ingest.NewWatcher(root.cfg.Ingest.WatchDirs, ingester, root.log)
				if err != nil {
					return fmt.Errorf("setup ingest watcher: %w", err)
				}
				if err := watcher.Start(); err != nil {
					return fmt.Errorf("start ingest watcher: %w", err)
				}
				defer watcher.Stop()
			}

			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			srv := server.NewServer(addr, root.store, q, root.log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(ctx) }()

			go func() {
				if err := sched.Run(ctx, root.cfg.Scheduler); err != nil && ctx.Err() == nil {
					root.log.Error("scheduler loop exited", "error", err)
				}
			}()

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config)")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API standalone",
		Long: `Serve the catalog over HTTP without the scheduler loop or ingest
watcher. Useful for read-only access to an existing catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			srv := server.NewServer(addr, root.store, nil, root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config)")
	return cmd
}

func newIngestCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <directory>",
		Short: "Ingest raw frames already present in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := qc.NewHeaderChecker(root.log)
			ingester := ingest.NewIngester(root.store, checker, root.cfg.Calibrations.FrameTypes, root.log)
			n, err := ingester.IngestDir(args[0])
			if err != nil {
				return err
			}
			root.log.Info("directory ingest complete", "dir", args[0], "frames", n)
			return nil
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(root.cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Path()
			if err != nil {
				return err
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			root.log.Info("default config written", "path", path)
			return nil
		},
	})

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the banzai version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("banzai %s\n", version)
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

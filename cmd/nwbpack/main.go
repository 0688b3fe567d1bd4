package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/api"
	"github.com/MikeSquared-Agency/nwbpack/internal/archive"
	"github.com/MikeSquared-Agency/nwbpack/internal/batch"
	"github.com/MikeSquared-Agency/nwbpack/internal/config"
	"github.com/MikeSquared-Agency/nwbpack/internal/hermes"
	"github.com/MikeSquared-Agency/nwbpack/internal/imaging"
	"github.com/MikeSquared-Agency/nwbpack/internal/processor"
	"github.com/MikeSquared-Agency/nwbpack/internal/session"
	"github.com/MikeSquared-Agency/nwbpack/internal/store"
	"github.com/MikeSquared-Agency/nwbpack/internal/tracking"
	"github.com/MikeSquared-Agency/nwbpack/internal/trials"
)

const usage = `usage: nwbpack <command> [flags]

commands:
  serve   package sessions requested over NATS and the HTTP API (default)
  batch   package every session under the source root
`

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "batch":
		err = runBatch(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("nwbpack failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func loadRegistry(path string) (*trials.Registry, error) {
	if path == "" {
		return trials.DefaultRegistry()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task specs: %w", err)
	}
	defer f.Close()
	return trials.LoadRegistry(f)
}

// pipeline wires the packager shared by both commands.
func pipeline(cfg config.Config) (*session.Packager, *archive.Writer, *trials.Registry, error) {
	registry, err := loadRegistry(cfg.TaskSpecs)
	if err != nil {
		return nil, nil, nil, err
	}
	writer := archive.NewWriter(cfg.DestRoot, slog.Default())
	opts := session.Options{
		MismatchTolerance: cfg.MismatchTolerance,
		MaxSkips:          cfg.MaxSkips,
		Criteria:          tracking.Criteria{Alpha: cfg.KeypointAlpha, Threshold: cfg.KeypointThreshold},
		Filter:            imaging.Params{Order: cfg.DFFFilterOrder, Low: cfg.DFFBandLow, High: cfg.DFFBandHigh},
	}
	slog.Info("task specs loaded", "tasks", registry.Names())
	return session.NewPackager(registry, writer, opts, slog.Default()), writer, registry, nil
}

// openStore connects the run ledger. It returns nil when no database is
// configured.
func openStore(ctx context.Context, url string) (*store.Store, error) {
	if url == "" {
		slog.Warn("DATABASE_URL not set, running without run ledger")
		return nil, nil
	}
	db, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("database connected")
	return db, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	slog.Info("nwbpack starting", "port", cfg.Port, "source", cfg.SourceRoot, "dest", cfg.DestRoot)

	packager, writer, registry, err := pipeline(cfg)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	// interfaces must stay nil rather than hold a nil *store.Store
	var ledger processor.Ledger
	var runs api.RunStore
	if db != nil {
		defer db.Close()
		ledger, runs = db, db
	}

	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	proc := processor.New(packager, cfg.SourceRoot, writer.Exists, ledger, hermesClient, slog.Default())
	if err := hermesClient.Subscribe(hermes.SubjectSessionRequested, proc.HandleSessionRequested); err != nil {
		return fmt.Errorf("subscribe to session requests: %w", err)
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, runs, proc, registry.Names())
	srv.SetBus(hermesClient)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("nwbpack ready", "port", cfg.Port, "subject", hermes.SubjectSessionRequested)

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func runBatch(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	bc := batch.Config{SourceRoot: cfg.SourceRoot, StatePath: cfg.StatePath}
	fs.StringVar(&bc.Session, "session", "", "package a single session")
	fs.StringVar(&bc.StatePath, "state", bc.StatePath, "resume state file")
	fs.BoolVar(&bc.Force, "force", false, "rebuild sessions that already have a container")
	fs.BoolVar(&bc.DryRun, "dry-run", false, "list sessions without packaging")
	since := fs.String("since", "", "only sessions recorded on or after this date (YYYY-MM-DD)")
	until := fs.String("until", "", "only sessions recorded on or before this date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var err error
	if bc.Since, err = parseDate(*since); err != nil {
		return fmt.Errorf("since: %w", err)
	}
	if bc.Until, err = parseDate(*until); err != nil {
		return fmt.Errorf("until: %w", err)
	}

	packager, writer, _, err := pipeline(cfg)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	var ledger processor.Ledger
	if db != nil {
		defer db.Close()
		ledger = db
	}

	proc := processor.New(packager, cfg.SourceRoot, writer.Exists, ledger, nil, slog.Default())
	sum, err := batch.NewRunner(bc, proc, slog.Default()).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Batch Summary ===\n")
	fmt.Printf("Sessions discovered: %d\n", sum.Discovered)
	fmt.Printf("Packaged: %d\n", sum.Packaged)
	fmt.Printf("Skipped: %d\n", sum.Skipped)
	fmt.Printf("Failed: %d\n", sum.Failed)
	if bc.DryRun {
		fmt.Printf("Mode: DRY RUN (nothing written)\n")
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

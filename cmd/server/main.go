package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"component-deployer/internal/api"
	"component-deployer/internal/auth"
	"component-deployer/internal/config"
	"component-deployer/internal/logger"
	"component-deployer/internal/metrics"
	"component-deployer/internal/notify"
	_ "component-deployer/internal/notify/sink"
	"component-deployer/internal/runstate"
	"component-deployer/internal/storage"
	"component-deployer/internal/store"
	"component-deployer/internal/task"
)

func main() {
	flags := config.Flags()
	hashSecret := flags.String("hash-secret", "", "Print the bcrypt hash of a client secret and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if *hashSecret != "" {
		hash, err := auth.HashSecret(*hashSecret)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// 1. Load config
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Deployer stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()
	log.Info().
		Int("port", cfg.Server.Port).
		Str("db_driver", cfg.Database.Driver).
		Int("tasks", len(cfg.Tasks)).
		Msg("Config loaded")

	// 2. Connect to database and bootstrap tables
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap tables: %w", err)
	}
	log.Info().Msg("Database ready")

	selectors, err := store.NewSelectors(db)
	if err != nil {
		return err
	}

	// 3. Run state
	states, err := runstate.Open(cfg.RunState.Path)
	if err != nil {
		return err
	}
	defer states.Close()

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 5. Summary sinks
	notifier, err := notify.New(cfg.Sinks, log, m)
	if err != nil {
		return fmt.Errorf("create sinks: %w", err)
	}
	defer notifier.Close()

	// 6. Task runner and scheduler
	blobs := storage.NewLocalStorage(cfg.Storage.LocalPath)
	runner, err := task.NewRunner(cfg.Tasks, task.Deps{
		Pager:     store.NewPager(db),
		Selectors: selectors,
		Assets:    blobs,
		History:   db,
		States:    states,
		Publisher: notifier,
		Metrics:   m,
		PageSize:  cfg.Browser.PageSize,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	scheduler := task.NewScheduler(runner, cfg.Tasks, db, cfg.History.RetentionDays, log)
	scheduler.Start()
	defer scheduler.Stop()

	// 7. HTTP
	maxAsset := int64(cfg.Storage.MaxUploadMB) * 1024 * 1024
	app := fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler(log),
		BodyLimit:             int(maxAsset) + 1024*1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(api.RequestLogger(log))

	api.RegisterOpsRoutes(app, reg)

	// Token route before the auth middleware
	auth.RegisterRoutes(app, auth.NewHandler(cfg.Auth.Clients, cfg.Auth.JWTSecret))

	api.RegisterRoutes(app, api.NewHandler(api.Deps{
		Runner:       runner,
		Store:        db,
		Selectors:    selectors,
		States:       states,
		Blobs:        blobs,
		MaxAssetSize: maxAsset,
		Logger:       log,
	}), auth.Middleware(cfg.Auth.JWTSecret), auth.RequireAdmin())

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info().Str("addr", addr).Msg("Starting server")
		errCh <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return nil
}

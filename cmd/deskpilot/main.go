package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"deskpilot/internal/automation"
	"deskpilot/internal/capture"
	"deskpilot/internal/config"
	"deskpilot/internal/realtime"
	"deskpilot/internal/session"
	"deskpilot/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "deskpilot",
		Usage: "remote desktop automation bridge",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "directory holding config.toml",
				Value: ".",
			},
		},
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, ctx.String("config-dir"))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the bridge server",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, ctx.String("config-dir"))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							return runMigrateUp(ctx.String("config-dir"))
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(configDir string) (*config.Store, config.Config, error) {
	cfgStore := config.NewStore(configDir)
	cfg, err := cfgStore.LoadOrInit()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfgStore, config.ApplyEnv(cfg), nil
}

func runServe(ctx context.Context, configDir string) error {
	cfgStore, cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	holder := config.NewHolder(cfg)
	cfgWatch, err := config.Watch(cfgStore, holder)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer cfgWatch.Close()

	prompts, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open prompt store: %w", err)
	}
	defer prompts.Close()

	provider := automation.NewExecProvider()
	guard := session.NewGuard(session.Config{
		Provider:        provider,
		Shortcuts:       holder.Shortcuts,
		Timing:          cfg.Timing.SessionTiming(),
		TargetApp:       cfg.TargetApp,
		ComposerCommand: cfg.ComposerCommand,
	})
	captures := capture.NewManager(provider, capture.DefaultInterval)
	rtServer := realtime.New(guard, captures, prompts, cfg.StaticDir)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		log.Println("Shutting down...")
		captures.DetachAll()
		httpServer.Close()
	}()

	log.Printf("deskpilot server running on http://localhost:%d", cfg.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func runMigrateUp(configDir string) error {
	_, cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	prompts, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer prompts.Close()
	log.Printf("migrations applied to %s", cfg.DBPath)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/example/meeting-broker/internal/application"
	"github.com/example/meeting-broker/internal/config"
	httptransport "github.com/example/meeting-broker/internal/http"
	"github.com/example/meeting-broker/internal/logging"
	"github.com/example/meeting-broker/internal/persistence/sqlite"
	"github.com/example/meeting-broker/internal/provider"
	"github.com/example/meeting-broker/internal/provider/caldav"
	"github.com/example/meeting-broker/internal/provider/google"
)

func main() {
	app := &cli.App{
		Name:  "meeting-broker",
		Usage: "negotiates meeting slots across party calendars",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from `FILE` before reading configuration",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the broker API server",
				Action: runServe,
			},
			{
				Name:      "resolve",
				Usage:     "recompute and print the candidate slots of one meeting",
				ArgsUsage: "<meeting-id>",
				Action:    runResolve,
			},
			{
				Name:      "hash-token",
				Usage:     "hash an API token for BROKER_API_TOKEN_HASH",
				ArgsUsage: "<token>",
				Action:    runHashToken,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHashToken(c *cli.Context) error {
	token := c.Args().First()
	if token == "" {
		return cli.Exit("a token argument is required", 2)
	}

	hash, err := application.CreateTokenHash(token, application.DefaultArgon2idParams)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	fmt.Println(hash)
	return nil
}

type broker struct {
	cfg     config.Config
	logger  *slog.Logger
	storage *sqlite.Store
	service *application.SchedulingService
}

func (b *broker) close() {
	if err := b.storage.Close(); err != nil {
		b.logger.Error("failed to close storage", "error", err)
	}
}

// buildBroker wires configuration, storage, the party directory, and the
// calendar providers into a scheduling service. Both serve and resolve share
// this setup.
func buildBroker(ctx context.Context, c *cli.Context) (*broker, error) {
	// Missing env files are fine; the environment may already be populated.
	if envFile := c.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	directory, err := application.LoadDirectory(cfg.PartiesFile)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to load party directory: %w", err)
	}

	providers := make(map[string]provider.Calendar)
	if cfg.GoogleEnabled() {
		client, err := google.NewClient(ctx, logger, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenFile)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("failed to initialize google provider: %w", err)
		}
		providers["google"] = client
	}
	if cfg.CalDAVEnabled() {
		client, err := caldav.NewClient(logger, cfg.CalDAVEndpoint, cfg.CalDAVUsername, cfg.CalDAVPassword)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("failed to initialize caldav provider: %w", err)
		}
		providers["caldav"] = client
	}
	if len(providers) == 0 {
		storage.Close()
		return nil, errors.New("no calendar provider is configured")
	}

	service := application.NewSchedulingService(storage, directory, providers, nil, logger, application.SchedulingServiceOptions{
		MaxCandidates:         cfg.MaxCandidates,
		CandidateCacheTTL:     cfg.CandidateCacheTTL,
		AutoConfirmTolerance:  cfg.AutoConfirmTolerance,
		MaxResolutionAttempts: cfg.MaxResolutionAttempts,
		RetryAttempts:         cfg.RetryAttempts,
		RetryBaseDelay:        cfg.RetryBaseDelay,
		RetryMaxDelay:         cfg.RetryMaxDelay,
		ProviderTimeout:       cfg.ProviderTimeout,
	})

	return &broker{cfg: cfg, logger: logger, storage: storage, service: service}, nil
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBroker(ctx, c)
	if err != nil {
		return err
	}
	defer b.close()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Meetings: httptransport.NewMeetingHandler(b.service, b.logger),
		Notify:   httptransport.NewNotifyHandler(b.service, b.logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(b.logger),
			httptransport.RequireToken(b.cfg.APITokenHash, b.logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", b.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go runExpirySweep(ctx, b.service, b.cfg.ExpirySweepInterval, b.logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	b.logger.Info("broker API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server encountered error: %w", err)
	}
	return nil
}

func runResolve(c *cli.Context) error {
	meetingID := c.Args().First()
	if meetingID == "" {
		return cli.Exit("a meeting id argument is required", 2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBroker(ctx, c)
	if err != nil {
		return err
	}
	defer b.close()

	slots, err := b.service.ListCandidates(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("failed to resolve candidates: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(slots)
}

// runExpirySweep periodically expires proposed meetings whose offered slots
// have all passed.
func runExpirySweep(ctx context.Context, service *application.SchedulingService, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := service.ExpireOverdue(ctx)
			if err != nil {
				logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				logger.Info("expired overdue meetings", "count", expired)
			}
		}
	}
}

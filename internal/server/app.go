// Package server wires the application together: configuration, key
// material, database, repositories, services and the HTTP API, with
// graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/clinvault/clinvault/internal/anomaly"
	"github.com/clinvault/clinvault/internal/cryptox"
	"github.com/clinvault/clinvault/internal/fieldcrypt"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/cache"
	"github.com/clinvault/clinvault/internal/server/config"
	"github.com/clinvault/clinvault/internal/server/httpapi"
	"github.com/clinvault/clinvault/internal/server/repositories/repomanager"
	"github.com/clinvault/clinvault/internal/server/services"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	server   *httpapi.Server
	archiver *audit.Archiver
}

// NewApp builds the full service. Key configuration problems are fatal
// here: a server without a usable master key must not start.
func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	master, err := cryptox.LoadMasterKey(cfg.MasterKeyHex)
	if err != nil {
		return nil, err
	}
	keys, err := cryptox.DeriveKeys(master)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := &repomanager.PostgresRepositoryManager{}
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	var denylist *cache.Denylist
	if cfg.RedisAddr != "" {
		denylist = cache.NewDenylist(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	recorder := audit.NewRecorder(rm.AuditEvents(db), logger, nil)
	transformer := fieldcrypt.NewTransformer(fieldcrypt.DefaultRegistry(), keys)

	tokens := services.NewTokenService(db, rm, recorder, denylist, cfg)
	users := services.NewUserService(db, rm, tokens, recorder)
	patients := services.NewPatientService(db, rm, transformer, recorder)

	handlers := httpapi.NewHandlers(httpapi.HandlersOptions{
		Users:          users,
		Tokens:         tokens,
		Patients:       patients,
		Recorder:       recorder,
		Detector:       anomaly.NewDetector(),
		Denylist:       denylist,
		JWTSecret:      []byte(cfg.SecretKey),
		BlockAnomalies: cfg.AnomalyBlockMode,
	}, logger)

	var archiver *audit.Archiver
	if cfg.AuditArchiveInterval > 0 {
		archiver = audit.NewArchiver(rm.AuditEvents(db), logger, audit.S3Options{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		}, cfg.AuditArchiveInterval)
	}

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		server:   httpapi.NewServer(cfg.EndpointAddr, handlers, logger),
		archiver: archiver,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	if app.archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.archiver.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err.Error())
	}
}

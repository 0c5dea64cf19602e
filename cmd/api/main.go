// Command api runs the workforce management HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wyecare.org/internal/auth"
	"wyecare.org/internal/config"
	"wyecare.org/internal/httpapi"
	"wyecare.org/internal/obs"
	"wyecare.org/internal/store/pg"
	"wyecare.org/internal/stream"
	"wyecare.org/internal/timesheet"
)

var version = "dev"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, "")
	defer obs.Sync()
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	tokenSvc, err := auth.NewTokenService(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
	)
	if err != nil {
		log.Fatal("token service", zap.Error(err))
	}

	events := stream.New()

	var (
		rbacStore    auth.RBACStore
		timesheetSvc timesheet.Service
		probe        httpapi.ReadyProbe
	)
	if cfg.DB.DSN != "" {
		store, err := pg.Open(cfg.DB.DSN,
			pg.WithPoolLimits(cfg.DB.MaxOpenConns, cfg.DB.MaxIdleConns))
		if err != nil {
			log.Fatal("postgres", zap.Error(err))
		}
		defer store.Close()

		tokens := scanTokenStore(cfg, log)
		rbacStore = pg.NewRBACStore(store.DB())
		timesheetSvc = pg.NewTimesheetStore(store.DB(), tokens, events,
			pg.WithTokenTTL(cfg.Scan.TokenTTL))
		probe = httpapi.ReadyProbe{DB: store.DB()}
		log.Info("storage", zap.String("backend", "postgres"))
	} else {
		rbacStore = auth.NewInMemoryStore()
		timesheetSvc = timesheet.NewInMemory(timesheet.NewMemoryTokenStore(), events,
			timesheet.WithTokenTTL(cfg.Scan.TokenTTL))
		log.Warn("storage", zap.String("backend", "memory"),
			zap.String("hint", "set WYECARE_PG_DSN for durable storage"))
	}

	rbacSvc, err := auth.NewRBACService(rbacStore)
	if err != nil {
		log.Fatal("rbac service", zap.Error(err))
	}

	api := httpapi.New(httpapi.Options{
		ReadyProbe:        probe,
		Version:           version,
		Tokens:            tokenSvc,
		RBAC:              rbacSvc,
		Timesheets:        timesheetSvc,
		Events:            events,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		ScanBackoff:       cfg.Scan.ReconnectBackoff,
		ScanMaxReconnects: cfg.Scan.MaxReconnects,
	})

	handler := httpapi.RateLimit(float64(cfg.Server.RatePerSecond), cfg.Server.RateBurst, api.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("stopped")
}

// scanTokenStore prefers Redis so scan tokens survive restarts and are
// shared across replicas; without Redis an in-process store is used.
func scanTokenStore(cfg config.Config, log *zap.Logger) timesheet.TokenStore {
	if cfg.Redis.Addr == "" {
		return timesheet.NewMemoryTokenStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, using in-memory scan tokens", zap.Error(err))
		return timesheet.NewMemoryTokenStore()
	}
	return timesheet.NewRedisTokenStore(client, cfg.Scan.TokenTTL)
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	api "github.com/mind-engage/mindengage-qbank/internal/api/http"
	"github.com/mind-engage/mindengage-qbank/internal/attempt"
	auth "github.com/mind-engage/mindengage-qbank/internal/auth/middleware"
	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/config"
	"github.com/mind-engage/mindengage-qbank/internal/db"
	"github.com/mind-engage/mindengage-qbank/internal/logger"
	"github.com/mind-engage/mindengage-qbank/internal/metrics"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/storage"
	syncx "github.com/mind-engage/mindengage-qbank/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return err
	}
	defer dbh.Close()

	// --- Blob store ---
	blobs, err := openBlobs(openCtx, cfg)
	if err != nil {
		return err
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Start guard (Redis when configured, else in-process) ---
	guard := attempt.NewLocalGuard()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(openCtx).Err(); err != nil {
			return err
		}
		guard = attempt.NewRedisGuard(rdb, 10*time.Second)
	}

	// --- Core services ---
	b := bank.New(bank.NewSQLStore(dbh),
		bank.WithRules(question.Rules{MaxOptions: cfg.OptionLimit}),
		bank.WithPageSize(cfg.PageSize),
		bank.WithPassingPercentage(cfg.PassingPercentage),
		bank.WithMetrics(m),
		bank.WithLogger(zl.Named("bank")))
	capturer := capture.New(capture.Policy{AllowedExt: cfg.UploadAllowedExt, MaxBytes: cfg.UploadMaxBytes})
	site, _ := os.Hostname()
	svc := attempt.NewService(b, attempt.NewSQLStore(dbh),
		attempt.WithGuard(guard),
		attempt.WithCapturer(capturer),
		attempt.WithRecorder(syncx.NewEventRepo(dbh, site)),
		attempt.WithMetrics(m),
		attempt.WithLogger(zl.Named("attempt")))
	limiter := api.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	handler := api.NewRouter(api.Deps{
		Auth: auth.NewAuthService(cfg.AuthSecret),
		Login: auth.LoginConfig{
			AdminUser:       cfg.AdminUser,
			AdminPassHash:   cfg.AdminPassHash,
			EnableLocalAuth: cfg.EnableLocalAuth,
		},
		Bank:           b,
		Attempts:       svc,
		Capturer:       capturer,
		Blobs:          blobs,
		Limiter:        limiter,
		Metrics:        m,
		Log:            zl.Named("http"),
		CORSOrigins:    cfg.CORSOrigins(),
		MaxUploadBytes: cfg.UploadMaxBytes,
		Ready: func(ctx context.Context) error {
			if err := dbh.PingContext(ctx); err != nil {
				return err
			}
			if rdb != nil {
				return rdb.Ping(ctx).Err()
			}
			return nil
		},
	})

	go sweep(ctx, svc, limiter, cfg.SweepInterval, zl.Named("sweep"))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		zl.Info("listening",
			zap.String("addr", cfg.HTTPAddr), zap.String("mode", string(cfg.Mode)),
			zap.String("db", cfg.DBDriver), zap.String("blob", cfg.BlobDriver), zap.Bool("redis", rdb != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func openBlobs(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	if cfg.BlobDriver == "minio" {
		return storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
	}
	return storage.NewFSStore(cfg.BlobBasePath)
}

// sweep times out attempts abandoned past their deadline and drops idle
// rate-limit buckets.
func sweep(ctx context.Context, svc *attempt.Service, limiter *api.Limiter, every time.Duration, zl *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.ExpireStale(ctx)
			if err != nil {
				zl.Error("expire stale attempts", zap.Error(err))
			} else if n > 0 {
				zl.Info("expired stale attempts", zap.Int("count", n))
			}
			limiter.Prune()
		}
	}
}

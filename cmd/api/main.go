package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/transit-ticketing/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/transit-ticketing/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/transit-ticketing/internal/adapters/redis"
	"github.com/robertarktes/transit-ticketing/internal/config"
	httphandler "github.com/robertarktes/transit-ticketing/internal/http"
	"github.com/robertarktes/transit-ticketing/internal/idempotency"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"github.com/robertarktes/transit-ticketing/internal/payments"
	"github.com/robertarktes/transit-ticketing/internal/rateLimit"
	"github.com/robertarktes/transit-ticketing/internal/ticketing"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("ticketing")
	catalog := mongoadapter.NewTripCatalog(mongoDB, logger)
	audit := mongoadapter.NewAuditTrail(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient, cfg.IssueLockTTL)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	calc := payments.NewSplitCalculator(cfg.PlatformFeeRate)
	issuer := ticketing.NewIssuer(catalog, repo, redisCache, calc, logger)
	reconciler := payments.NewReconciler(repo, audit, logger, cfg.WebhookSecret, cfg.EnforceWebhookSignature)

	handlers := httphandler.NewHandlers(cfg, issuer, reconciler, repo, catalog, idemp, audit)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

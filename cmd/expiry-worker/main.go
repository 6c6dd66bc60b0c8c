package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/transit-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/transit-ticketing/internal/adapters/rabbit"
	"github.com/robertarktes/transit-ticketing/internal/config"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	worker := NewExpiryWorker(repo, rabbitPub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

// ExpiryWorker sweeps tickets past their validity horizon. Pending tickets
// are cancelled so the gateway's late webhook for them no-ops on the status
// compare-and-swap; active tickets whose departure passed unused become
// expired. The same CAS the reconciler uses makes the sweep safe against a
// webhook racing it.
type ExpiryWorker struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewExpiryWorker(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

const sweepBatchSize = 100

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.sweep(ctx, now, domain.StatusPendingPayment, domain.StatusCancelled, "ticket.cancelled")
			w.sweep(ctx, now, domain.StatusActive, domain.StatusExpired, "ticket.expired")
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context, now time.Time, from, to domain.Status, eventType string) {
	var tickets []domain.Ticket
	var err error
	switch from {
	case domain.StatusPendingPayment:
		tickets, err = w.repo.ExpiredPendingTickets(ctx, now, sweepBatchSize)
	default:
		tickets, err = w.repo.ExpiredActiveTickets(ctx, now, sweepBatchSize)
	}
	if err != nil {
		w.logger.WithError(err).Error("failed to list expired tickets")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, t := range tickets {
		t := t
		g.Go(func() error {
			applied, err := w.repo.TransitionStatus(gctx, t.ID, from, to)
			if err != nil {
				w.logger.WithError(err).WithField("ticket_id", t.ID.String()).Error("failed to transition ticket")
				return nil
			}
			if !applied {
				// A webhook or staff action got there first.
				return nil
			}
			w.publish(gctx, t, to, eventType)
			return nil
		})
	}
	g.Wait()
}

func (w *ExpiryWorker) publish(ctx context.Context, t domain.Ticket, to domain.Status, eventType string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"ticket_id": t.ID,
		"trip_id":   t.TripID,
		"status":    to,
	})
	msg := amqp.Publishing{
		MessageId:   t.ID.String() + ":" + string(to),
		ContentType: "application/json",
		Body:        payload,
	}
	for i := 0; i < 3; i++ {
		if err := w.rabbitPub.Publish(ctx, eventType, msg); err == nil {
			return
		}
		observability.RabbitPublishRetries.Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(1<<i) * time.Second):
		}
	}
	w.logger.WithField("ticket_id", t.ID.String()).Error("failed to publish expiry event after retries")
}

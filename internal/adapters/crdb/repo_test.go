package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/transit-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/ticketing"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS ticketing;
	CREATE TABLE IF NOT EXISTS ticketing.tickets (
		id UUID PRIMARY KEY,
		code TEXT NOT NULL,
		trip_id UUID NOT NULL,
		company_id UUID NOT NULL,
		user_id UUID NOT NULL,
		seat_number INT,
		price INT8 NOT NULL,
		platform_fee INT8 NOT NULL,
		company_net INT8 NOT NULL,
		gateway_fee_estimated INT8 NOT NULL,
		payment_reference TEXT NOT NULL UNIQUE,
		payment_status TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		paid_at TIMESTAMPTZ,
		payment_method TEXT NOT NULL DEFAULT '',
		departure_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used_at TIMESTAMPTZ,
		status TEXT NOT NULL CHECK (status IN ('pending_payment', 'active', 'used', 'cancelled', 'expired')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE INDEX seat_per_live_ticket (trip_id, seat_number) WHERE status != 'cancelled'
	);
	CREATE TABLE IF NOT EXISTS ticketing.outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT,
		aggregate_id UUID,
		event_type TEXT,
		payload_json BYTES,
		created_at TIMESTAMPTZ DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT,
		dedupe_key TEXT
	);
`

func setupRepo(t *testing.T) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/ticketing?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}

	return crdb.NewRepository(pool), pool
}

func seedTicket(t *testing.T, repo *crdb.Repository, tripID uuid.UUID, seat int, reference string) domain.Ticket {
	t.Helper()
	trip := domain.Trip{
		ID:            tripID,
		CompanyID:     uuid.New(),
		Date:          time.Now().Add(24 * time.Hour),
		DepartureTime: "08:30",
		Price:         30000,
		Capacity:      30,
		Active:        true,
		RouteActive:   true,
	}
	ticket := domain.NewTicket(trip, uuid.New(), seat, 30000,
		domain.Financials{CompanyNet: 30000, GatewayFeeEstimated: 1655},
		"ABCD2345", reference, false)

	err := repo.IssueInTx(context.Background(), func(tx ticketing.TxLedger) error {
		return tx.InsertTicket(context.Background(), ticket)
	})
	if err != nil {
		t.Fatal(err)
	}
	return ticket
}

func TestRepository_SeatConflictIsRetryable(t *testing.T) {
	repo, _ := setupRepo(t)
	tripID := uuid.New()

	seedTicket(t, repo, tripID, 1, "ref-seat-1")

	// Same trip, same seat: the partial unique index rejects it and the
	// repository reports it as contention so the issuer can retry with a
	// fresh high-water mark.
	trip := domain.Trip{ID: tripID, CompanyID: uuid.New(), Date: time.Now(), Price: 30000}
	dup := domain.NewTicket(trip, uuid.New(), 1, 30000, domain.Financials{}, "EFGH6789", "ref-seat-dup", false)
	err := repo.IssueInTx(context.Background(), func(tx ticketing.TxLedger) error {
		return tx.InsertTicket(context.Background(), dup)
	})
	if !errors.Is(err, domain.ErrSerializationFailure) {
		t.Fatalf("expected ErrSerializationFailure, got %v", err)
	}
}

func TestRepository_MaxLiveSeatIgnoresCancelled(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	tripID := uuid.New()

	seedTicket(t, repo, tripID, 1, "ref-max-1")
	top := seedTicket(t, repo, tripID, 2, "ref-max-2")

	var max int
	err := repo.IssueInTx(ctx, func(tx ticketing.TxLedger) error {
		var err error
		max, err = tx.MaxLiveSeat(ctx, tripID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if max != 2 {
		t.Errorf("expected max 2, got %d", max)
	}

	if _, err := pool.Exec(ctx, `UPDATE tickets SET status = 'cancelled' WHERE id = $1`, top.ID); err != nil {
		t.Fatal(err)
	}

	err = repo.IssueInTx(ctx, func(tx ticketing.TxLedger) error {
		var err error
		max, err = tx.MaxLiveSeat(ctx, tripID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if max != 1 {
		t.Errorf("cancelled top seat must drop the mark, got %d", max)
	}
}

func TestRepository_SettlePaymentIsIdempotent(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	ticket := seedTicket(t, repo, uuid.New(), 1, "ref-settle-1")

	paidAt := time.Now().UTC()
	upd := domain.PaymentUpdate{
		Status:        domain.StatusActive,
		GatewayStatus: "APPROVED",
		TransactionID: "tx-1",
		Method:        "CARD",
		PaidAt:        &paidAt,
	}

	applied, err := repo.SettlePayment(ctx, ticket.Payment.Reference, upd)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("expected first settlement to apply")
	}

	applied, err = repo.SettlePayment(ctx, ticket.Payment.Reference, upd)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("second settlement must be a no-op")
	}

	got, err := repo.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusActive {
		t.Errorf("expected active, got %s", got.Status)
	}
	if got.Payment.TransactionID != "tx-1" || got.Payment.Method != "CARD" {
		t.Errorf("payment sub-record not stored: %+v", got.Payment)
	}
	if got.Payment.PaidAt == nil {
		t.Error("expected paid_at to be set")
	}
}

func TestRepository_SettleUnknownReference(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.SettlePayment(context.Background(), "ref-missing", domain.PaymentUpdate{Status: domain.StatusActive})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepository_DuplicateReferenceRejected(t *testing.T) {
	repo, _ := setupRepo(t)
	tripID := uuid.New()

	seedTicket(t, repo, tripID, 1, "ref-unique")

	trip := domain.Trip{ID: uuid.New(), CompanyID: uuid.New(), Date: time.Now(), Price: 30000}
	dup := domain.NewTicket(trip, uuid.New(), 1, 30000, domain.Financials{}, "IJKL2345", "ref-unique", false)
	err := repo.IssueInTx(context.Background(), func(tx ticketing.TxLedger) error {
		return tx.InsertTicket(context.Background(), dup)
	})
	if err == nil {
		t.Fatal("expected duplicate reference to be rejected")
	}
}

func TestRepository_ExpirySweepTransitions(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	ticket := seedTicket(t, repo, uuid.New(), 1, "ref-expiry-1")
	if _, err := pool.Exec(ctx, `UPDATE tickets SET expires_at = now() - INTERVAL '1 hour' WHERE id = $1`, ticket.ID); err != nil {
		t.Fatal(err)
	}

	pending, err := repo.ExpiredPendingTickets(ctx, time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != ticket.ID {
		t.Fatalf("expected the seeded ticket, got %d tickets", len(pending))
	}

	applied, err := repo.TransitionStatus(ctx, ticket.ID, domain.StatusPendingPayment, domain.StatusCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("expected transition to apply")
	}

	// A late webhook for the swept ticket must find nothing to settle.
	settled, err := repo.SettlePayment(ctx, ticket.Payment.Reference, domain.PaymentUpdate{Status: domain.StatusActive, GatewayStatus: "APPROVED"})
	if err != nil {
		t.Fatal(err)
	}
	if settled {
		t.Fatal("late webhook must no-op after the sweep cancelled the ticket")
	}
}

func TestRepository_OutboxRecordsWritten(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	ticket := seedTicket(t, repo, uuid.New(), 1, "ref-outbox-1")
	if _, err := repo.SettlePayment(ctx, ticket.Payment.Reference, domain.PaymentUpdate{Status: domain.StatusActive, GatewayStatus: "APPROVED"}); err != nil {
		t.Fatal(err)
	}

	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected issued + activated records, got %d", len(records))
	}
	types := map[string]bool{}
	for _, rec := range records {
		types[rec.EventType] = true
	}
	if !types["ticket.issued"] || !types["ticket.activated"] {
		t.Errorf("unexpected event types: %v", types)
	}

	if err := repo.MarkPublished(ctx, records[0].ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	remaining, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected 1 unpublished record, got %d", len(remaining))
	}
}

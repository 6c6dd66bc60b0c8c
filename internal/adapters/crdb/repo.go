package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"github.com/robertarktes/transit-ticketing/internal/ticketing"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

// Repository is the ticket ledger. All writes go through serializable
// transactions; seat uniqueness is additionally backed by a partial unique
// index on (trip_id, seat_number) over non-cancelled tickets, and payment
// references by a global unique index.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// mapPgError turns contention into the retryable sentinel. A unique
// violation on the seat index is the same situation as a serialization
// failure: another buyer got there first, and a retry recomputes the seat.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode, UniqueViolationCode:
			return domain.ErrSerializationFailure
		}
	}
	return err
}

// IssueInTx satisfies ticketing.Ledger.
func (r *Repository) IssueInTx(ctx context.Context, fn func(tx ticketing.TxLedger) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&txLedger{tx: tx})
	})
}

type txLedger struct {
	tx pgx.Tx
}

func (l *txLedger) MaxLiveSeat(ctx context.Context, tripID uuid.UUID) (int, error) {
	var max int
	err := l.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seat_number), 0) FROM tickets
		WHERE trip_id = $1 AND status <> 'cancelled' AND seat_number IS NOT NULL
	`, tripID).Scan(&max)
	return max, err
}

func (l *txLedger) HasLiveTicket(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := l.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE trip_id = $1 AND user_id = $2 AND status <> 'cancelled'
		)
	`, tripID, userID).Scan(&exists)
	return exists, err
}

func (l *txLedger) InsertTicket(ctx context.Context, t domain.Ticket) error {
	_, err := l.tx.Exec(ctx, `
		INSERT INTO tickets (
			id, code, trip_id, company_id, user_id, seat_number,
			price, platform_fee, company_net, gateway_fee_estimated,
			payment_reference, payment_status, departure_at, expires_at,
			status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '', $12, $13, $14, $15)
	`, t.ID, t.Code, t.TripID, t.CompanyID, t.UserID, t.SeatNumber,
		t.Price, t.Financials.PlatformFee, t.Financials.CompanyNet, t.Financials.GatewayFeeEstimated,
		t.Payment.Reference, t.DepartureAt, t.ExpiresAt, t.Status, t.CreatedAt)
	if err != nil {
		return err
	}

	payload := issuedPayload(t)
	return insertOutbox(ctx, l.tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "ticket",
		AggregateID:   t.ID,
		EventType:     "ticket.issued",
		Payload:       payload,
		DedupeKey:     t.Payment.Reference,
	})
}

// SettlePayment satisfies payments.TicketSettler. The status filter in the
// UPDATE is the idempotency gate: a redelivered webhook finds zero rows and
// returns applied=false.
func (r *Repository) SettlePayment(ctx context.Context, reference string, upd domain.PaymentUpdate) (bool, error) {
	applied := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE tickets SET
				status = $2, payment_status = $3, transaction_id = $4,
				paid_at = $5, payment_method = $6
			WHERE payment_reference = $1 AND status = 'pending_payment'
		`, reference, upd.Status, upd.GatewayStatus, upd.TransactionID, upd.PaidAt, upd.Method)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM tickets WHERE payment_reference = $1)
			`, reference).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrNotFound
			}
			return nil
		}
		applied = true

		var ticketID uuid.UUID
		if err := tx.QueryRow(ctx, `
			SELECT id FROM tickets WHERE payment_reference = $1
		`, reference).Scan(&ticketID); err != nil {
			return err
		}
		eventType := "ticket.activated"
		if upd.Status == domain.StatusCancelled {
			eventType = "ticket.cancelled"
		}
		return insertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "ticket",
			AggregateID:   ticketID,
			EventType:     eventType,
			Payload:       settledPayload(reference, upd),
			DedupeKey:     reference + ":" + string(upd.Status),
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *Repository) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, trip_id, company_id, user_id, seat_number,
			price, platform_fee, company_net, gateway_fee_estimated,
			payment_reference, payment_status, transaction_id, paid_at, payment_method,
			departure_at, expires_at, used_at, status, created_at
		FROM tickets WHERE id = $1
	`, id)
	return scanTicket(row)
}

// ExpiredPendingTickets lists tickets still awaiting payment past their
// validity horizon, for the expiry sweep.
func (r *Repository) ExpiredPendingTickets(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	return r.ticketsPastExpiry(ctx, domain.StatusPendingPayment, now, limit)
}

// ExpiredActiveTickets lists paid tickets whose departure has passed without
// being marked used.
func (r *Repository) ExpiredActiveTickets(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	return r.ticketsPastExpiry(ctx, domain.StatusActive, now, limit)
}

func (r *Repository) ticketsPastExpiry(ctx context.Context, status domain.Status, now time.Time, limit int) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, trip_id, company_id, user_id, seat_number,
			price, platform_fee, company_net, gateway_fee_estimated,
			payment_reference, payment_status, transaction_id, paid_at, payment_method,
			departure_at, expires_at, used_at, status, created_at
		FROM tickets WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC LIMIT $3
	`, status, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// TransitionStatus is the compare-and-swap used by the expiry sweep. It
// reports whether the transition applied; a ticket already moved on (e.g. a
// webhook landed between the sweep's read and write) is left alone.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE tickets SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(
		&t.ID, &t.Code, &t.TripID, &t.CompanyID, &t.UserID, &t.SeatNumber,
		&t.Price, &t.Financials.PlatformFee, &t.Financials.CompanyNet, &t.Financials.GatewayFeeEstimated,
		&t.Payment.Reference, &t.Payment.Status, &t.Payment.TransactionID, &t.Payment.PaidAt, &t.Payment.Method,
		&t.DepartureAt, &t.ExpiresAt, &t.UsedAt, &t.Status, &t.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package ticketing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"github.com/robertarktes/transit-ticketing/internal/payments"
)

// TripCatalog is the read-only view of the trip CRUD service.
type TripCatalog interface {
	GetTrip(ctx context.Context, id uuid.UUID) (*domain.Trip, error)
}

// TxLedger is the ledger inside one atomic transaction. MaxLiveSeat and
// InsertTicket must observe each other: two concurrent transactions may not
// both read the same high-water mark and commit.
type TxLedger interface {
	MaxLiveSeat(ctx context.Context, tripID uuid.UUID) (int, error)
	HasLiveTicket(ctx context.Context, tripID, userID uuid.UUID) (bool, error)
	InsertTicket(ctx context.Context, t domain.Ticket) error
}

// Ledger runs fn in one serializable transaction. fn's writes commit as a
// unit or not at all; contention surfaces as domain.ErrSerializationFailure.
type Ledger interface {
	IssueInTx(ctx context.Context, fn func(tx TxLedger) error) error
}

// TripLocker is an advisory per-trip mutex that keeps concurrent buyers of
// the same trip from piling up serialization retries. Correctness never
// depends on it; the transaction isolation does the real work.
type TripLocker interface {
	AcquireIssueLock(ctx context.Context, tripID string) (bool, error)
	ReleaseIssueLock(ctx context.Context, tripID string) error
}

const maxIssueAttempts = 3

type Issuer struct {
	catalog TripCatalog
	ledger  Ledger
	locker  TripLocker
	calc    payments.SplitCalculator
	logger  observability.Logger
}

func NewIssuer(catalog TripCatalog, ledger Ledger, locker TripLocker, calc payments.SplitCalculator, logger observability.Logger) *Issuer {
	return &Issuer{
		catalog: catalog,
		ledger:  ledger,
		locker:  locker,
		calc:    calc,
		logger:  logger,
	}
}

// Issue sells the next free seat on a trip. The duplicate-buyer check, seat
// allocation and ticket insert run in one transaction, so a failure at any
// step leaves no seat reserved and no partial ticket. Manual staff entries
// skip the payment flow: price zero, active immediately.
func (s *Issuer) Issue(ctx context.Context, tripID, userID uuid.UUID, manual bool) (*domain.Ticket, error) {
	trip, err := s.catalog.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.Active || !trip.RouteActive {
		return nil, domain.ErrTripInactive
	}

	if s.locker != nil {
		if s.lockTrip(ctx, tripID.String()) {
			defer s.locker.ReleaseIssueLock(ctx, tripID.String())
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		ticket, err := s.tryIssue(ctx, *trip, userID, manual)
		if errors.Is(err, domain.ErrSerializationFailure) {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 10 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		mode := "self_service"
		if manual {
			mode = "manual"
		}
		observability.TicketsIssued.WithLabelValues(mode).Inc()
		s.logger.WithField("ticket_id", ticket.ID.String()).
			WithField("trip_id", tripID.String()).
			WithField("seat", *ticket.SeatNumber).
			Info("ticket issued")
		return ticket, nil
	}
	return nil, lastErr
}

func (s *Issuer) tryIssue(ctx context.Context, trip domain.Trip, userID uuid.UUID, manual bool) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.ledger.IssueInTx(ctx, func(tx TxLedger) error {
		if !manual {
			dup, err := tx.HasLiveTicket(ctx, trip.ID, userID)
			if err != nil {
				return err
			}
			if dup {
				return domain.ErrDuplicateTicket
			}
		}

		maxLive, err := tx.MaxLiveSeat(ctx, trip.ID)
		if err != nil {
			return err
		}
		seat, err := NextSeat(maxLive, trip.Capacity)
		if err != nil {
			observability.CapacityFull.Inc()
			return err
		}

		split := payments.ZeroSplit()
		if !manual {
			split, err = s.calc.Split(trip.Price)
			if err != nil {
				return err
			}
		}

		ticket = domain.NewTicket(trip, userID, seat, split.Total, split.Financials(),
			payments.NewTicketCode(), payments.NewReference(), manual)
		return tx.InsertTicket(ctx, ticket)
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// lockTrip waits briefly for the advisory lock and reports whether it was
// acquired. The issuer proceeds either way once the wait is exhausted.
func (s *Issuer) lockTrip(ctx context.Context, tripID string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ok, err := s.locker.AcquireIssueLock(ctx, tripID)
		if err != nil {
			return false
		}
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return false
}

package ticketing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"github.com/robertarktes/transit-ticketing/internal/payments"
)

type fakeCatalog struct {
	trips map[uuid.UUID]*domain.Trip
}

func (f *fakeCatalog) GetTrip(ctx context.Context, id uuid.UUID) (*domain.Trip, error) {
	trip, ok := f.trips[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return trip, nil
}

// memLedger serializes transactions with a mutex, mirroring what the
// serializable isolation level guarantees in the real store.
type memLedger struct {
	mu       sync.Mutex
	tickets  []domain.Ticket
	failures int // serialization failures to inject before succeeding
}

func (m *memLedger) IssueInTx(ctx context.Context, fn func(tx TxLedger) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return domain.ErrSerializationFailure
	}
	tx := &memTx{ledger: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.tickets = append(m.tickets, tx.inserted...)
	return nil
}

func (m *memLedger) cancel(ticketID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tickets {
		if m.tickets[i].ID == ticketID {
			m.tickets[i].Status = domain.StatusCancelled
		}
	}
}

type memTx struct {
	ledger   *memLedger
	inserted []domain.Ticket
}

func (tx *memTx) MaxLiveSeat(ctx context.Context, tripID uuid.UUID) (int, error) {
	max := 0
	for _, t := range tx.ledger.tickets {
		if t.TripID == tripID && t.Status.Live() && t.SeatNumber != nil && *t.SeatNumber > max {
			max = *t.SeatNumber
		}
	}
	return max, nil
}

func (tx *memTx) HasLiveTicket(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	for _, t := range tx.ledger.tickets {
		if t.TripID == tripID && t.UserID == userID && t.Status.Live() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) InsertTicket(ctx context.Context, t domain.Ticket) error {
	tx.inserted = append(tx.inserted, t)
	return nil
}

func testTrip(capacity int, price int64) *domain.Trip {
	return &domain.Trip{
		ID:            uuid.New(),
		RouteID:       uuid.New(),
		CompanyID:     uuid.New(),
		Origin:        "Bogota",
		Destination:   "Medellin",
		Date:          time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		DepartureTime: "08:30",
		Price:         price,
		Capacity:      capacity,
		Active:        true,
		RouteActive:   true,
	}
}

func newTestIssuer(trip *domain.Trip, ledger *memLedger, rate float64) *Issuer {
	catalog := &fakeCatalog{trips: map[uuid.UUID]*domain.Trip{trip.ID: trip}}
	return NewIssuer(catalog, ledger, nil, payments.NewSplitCalculator(rate), observability.NewLogger())
}

func TestIssuer_SellsSeatsInOrderUntilFull(t *testing.T) {
	trip := testTrip(2, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0)
	ctx := context.Background()

	a, err := issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatalf("buyer A: %v", err)
	}
	if *a.SeatNumber != 1 || a.Status != domain.StatusPendingPayment {
		t.Errorf("buyer A: expected seat 1 pending_payment, got seat %d %s", *a.SeatNumber, a.Status)
	}

	b, err := issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatalf("buyer B: %v", err)
	}
	if *b.SeatNumber != 2 {
		t.Errorf("buyer B: expected seat 2, got %d", *b.SeatNumber)
	}

	_, err = issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if !errors.Is(err, domain.ErrCapacityFull) {
		t.Fatalf("buyer C: expected ErrCapacityFull, got %v", err)
	}
}

func TestIssuer_PendingTicketHoldsItsSeat(t *testing.T) {
	trip := testTrip(1, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0)
	ctx := context.Background()

	if _, err := issuer.Issue(ctx, trip.ID, uuid.New(), false); err != nil {
		t.Fatal(err)
	}
	_, err := issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if !errors.Is(err, domain.ErrCapacityFull) {
		t.Fatalf("a pending ticket must keep its seat reserved, got %v", err)
	}
}

func TestIssuer_CancelledTopSeatIsReused(t *testing.T) {
	trip := testTrip(2, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0)
	ctx := context.Background()

	if _, err := issuer.Issue(ctx, trip.ID, uuid.New(), false); err != nil {
		t.Fatal(err)
	}
	b, err := issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatal(err)
	}

	// Cancelling the highest-numbered ticket lowers the high-water mark, so
	// the next buyer gets that seat number back.
	ledger.cancel(b.ID)

	d, err := issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatalf("expected seat 2 to be reusable, got %v", err)
	}
	if *d.SeatNumber != 2 {
		t.Errorf("expected seat 2, got %d", *d.SeatNumber)
	}
}

func TestIssuer_CancelledSeatBelowMarkIsNotReused(t *testing.T) {
	trip := testTrip(2, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0)
	ctx := context.Background()

	a, err := issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Issue(ctx, trip.ID, uuid.New(), false); err != nil {
		t.Fatal(err)
	}

	// Seat 1 is freed, but the mark stays at 2: the trip reads as full.
	ledger.cancel(a.ID)

	_, err = issuer.Issue(ctx, trip.ID, uuid.New(), false)
	if !errors.Is(err, domain.ErrCapacityFull) {
		t.Fatalf("expected ErrCapacityFull, got %v", err)
	}
}

func TestIssuer_DuplicateBuyerRejected(t *testing.T) {
	trip := testTrip(10, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0)
	ctx := context.Background()
	buyer := uuid.New()

	if _, err := issuer.Issue(ctx, trip.ID, buyer, false); err != nil {
		t.Fatal(err)
	}
	_, err := issuer.Issue(ctx, trip.ID, buyer, false)
	if !errors.Is(err, domain.ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}
}

func TestIssuer_ManualEntrySkipsPaymentAndDuplicateCheck(t *testing.T) {
	trip := testTrip(10, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0.1)
	ctx := context.Background()
	staff := uuid.New()

	first, err := issuer.Issue(ctx, trip.ID, staff, true)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != domain.StatusActive {
		t.Errorf("expected active, got %s", first.Status)
	}
	if first.Price != 0 || first.Financials.PlatformFee != 0 || first.Financials.CompanyNet != 0 {
		t.Errorf("manual entries carry no money, got price=%d fin=%+v", first.Price, first.Financials)
	}

	// Staff may register several walk-up passengers under their own account.
	second, err := issuer.Issue(ctx, trip.ID, staff, true)
	if err != nil {
		t.Fatalf("expected second manual entry to succeed, got %v", err)
	}
	if *second.SeatNumber != 2 {
		t.Errorf("expected seat 2, got %d", *second.SeatNumber)
	}
}

func TestIssuer_FinancialSnapshotFrozen(t *testing.T) {
	trip := testTrip(10, 30001)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0.1)

	ticket, err := issuer.Issue(context.Background(), trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Financials.PlatformFee != 3001 {
		t.Errorf("expected fee 3001, got %d", ticket.Financials.PlatformFee)
	}
	if ticket.Financials.PlatformFee+ticket.Financials.CompanyNet != ticket.Price {
		t.Error("fee + net must equal price exactly")
	}
	if ticket.Payment.Reference == "" || ticket.Code == "" {
		t.Error("expected reference and code to be set")
	}
	if !ticket.ExpiresAt.Equal(ticket.DepartureAt) {
		t.Error("expiry defaults to departure")
	}
}

func TestIssuer_InactiveTripRejected(t *testing.T) {
	trip := testTrip(10, 30000)
	trip.Active = false
	issuer := newTestIssuer(trip, &memLedger{}, 0)

	_, err := issuer.Issue(context.Background(), trip.ID, uuid.New(), false)
	if !errors.Is(err, domain.ErrTripInactive) {
		t.Fatalf("expected ErrTripInactive, got %v", err)
	}
}

func TestIssuer_InactiveRouteRejected(t *testing.T) {
	trip := testTrip(10, 30000)
	trip.RouteActive = false
	issuer := newTestIssuer(trip, &memLedger{}, 0)

	_, err := issuer.Issue(context.Background(), trip.ID, uuid.New(), false)
	if !errors.Is(err, domain.ErrTripInactive) {
		t.Fatalf("expected ErrTripInactive, got %v", err)
	}
}

func TestIssuer_UnknownTripRejected(t *testing.T) {
	trip := testTrip(10, 30000)
	issuer := newTestIssuer(trip, &memLedger{}, 0)

	_, err := issuer.Issue(context.Background(), uuid.New(), uuid.New(), false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssuer_RetriesSerializationFailures(t *testing.T) {
	trip := testTrip(10, 30000)
	ledger := &memLedger{failures: 2}
	issuer := newTestIssuer(trip, ledger, 0)

	ticket, err := issuer.Issue(context.Background(), trip.ID, uuid.New(), false)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if *ticket.SeatNumber != 1 {
		t.Errorf("expected seat 1, got %d", *ticket.SeatNumber)
	}
}

func TestIssuer_GivesUpAfterRepeatedContention(t *testing.T) {
	trip := testTrip(10, 30000)
	ledger := &memLedger{failures: 100}
	issuer := newTestIssuer(trip, ledger, 0)

	_, err := issuer.Issue(context.Background(), trip.ID, uuid.New(), false)
	if !errors.Is(err, domain.ErrSerializationFailure) {
		t.Fatalf("expected ErrSerializationFailure, got %v", err)
	}
}

func TestIssuer_ConcurrentBuyersNeverShareSeats(t *testing.T) {
	const capacity = 10
	const buyers = 25

	trip := testTrip(capacity, 30000)
	ledger := &memLedger{}
	issuer := newTestIssuer(trip, ledger, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var capacityErrs int
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := issuer.Issue(context.Background(), trip.ID, uuid.New(), false)
			if errors.Is(err, domain.ErrCapacityFull) {
				mu.Lock()
				capacityErrs++
				mu.Unlock()
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	seats := make(map[int]bool)
	for _, ticket := range ledger.tickets {
		if !ticket.Status.Live() || ticket.SeatNumber == nil {
			continue
		}
		seat := *ticket.SeatNumber
		if seat < 1 || seat > capacity {
			t.Errorf("seat %d outside [1,%d]", seat, capacity)
		}
		if seats[seat] {
			t.Errorf("seat %d assigned twice", seat)
		}
		seats[seat] = true
	}
	if len(seats) != capacity {
		t.Errorf("expected %d seats sold, got %d", capacity, len(seats))
	}
	if capacityErrs != buyers-capacity {
		t.Errorf("expected %d capacity errors, got %d", buyers-capacity, capacityErrs)
	}
}

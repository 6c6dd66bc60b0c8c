package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusUsed           Status = "used"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Live reports whether the ticket still occupies its seat. Only cancellation
// releases a seat; used and expired tickets keep theirs for the record.
func (s Status) Live() bool {
	return s != StatusCancelled
}

// Financials is the split of the gross price captured at issuance. It is
// never recomputed: the fee schedule may change after the sale.
type Financials struct {
	PlatformFee         int64
	CompanyNet          int64
	GatewayFeeEstimated int64
}

// Payment mirrors the gateway's view of the transaction. Reference is unique
// across the whole ledger and is the only correlation key the gateway knows.
type Payment struct {
	Reference     string
	Status        string
	TransactionID string
	PaidAt        *time.Time
	Method        string
}

type Ticket struct {
	ID          uuid.UUID
	Code        string
	SeatNumber  *int
	TripID      uuid.UUID
	CompanyID   uuid.UUID
	UserID      uuid.UUID
	Price       int64
	Financials  Financials
	Payment     Payment
	DepartureAt time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	Status      Status
	CreatedAt   time.Time
}

// NewTicket builds the ticket for a freshly allocated seat. Self-service
// tickets start pending the gateway; manual staff entries are active
// immediately with price forced to zero.
func NewTicket(trip Trip, userID uuid.UUID, seat int, price int64, fin Financials, code, reference string, manual bool) Ticket {
	status := StatusPendingPayment
	if manual {
		status = StatusActive
		price = 0
	}
	departure := trip.DepartureAt()
	return Ticket{
		ID:          uuid.New(),
		Code:        code,
		SeatNumber:  &seat,
		TripID:      trip.ID,
		CompanyID:   trip.CompanyID,
		UserID:      userID,
		Price:       price,
		Financials:  fin,
		Payment:     Payment{Reference: reference},
		DepartureAt: departure,
		ExpiresAt:   departure,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
}

// PaymentUpdate is the terminal outcome a gateway event maps to. Applying it
// is a compare-and-swap against StatusPendingPayment.
type PaymentUpdate struct {
	Status        Status // StatusActive or StatusCancelled
	GatewayStatus string
	TransactionID string
	Method        string
	PaidAt        *time.Time
}

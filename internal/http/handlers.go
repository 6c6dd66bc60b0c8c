package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/transit-ticketing/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/transit-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/transit-ticketing/internal/config"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/idempotency"
	"github.com/robertarktes/transit-ticketing/internal/payments"
	"github.com/robertarktes/transit-ticketing/internal/ticketing"
)

type Handlers struct {
	cfg        *config.Config
	issuer     *ticketing.Issuer
	reconciler *payments.Reconciler
	repo       *crdb.Repository
	catalog    *mongoadapter.TripCatalog
	idemp      *idempotency.Idempotency
	audit      *mongoadapter.AuditTrail
}

func NewHandlers(cfg *config.Config, issuer *ticketing.Issuer, reconciler *payments.Reconciler, repo *crdb.Repository, catalog *mongoadapter.TripCatalog, idemp *idempotency.Idempotency, audit *mongoadapter.AuditTrail) *Handlers {
	return &Handlers{
		cfg:        cfg,
		issuer:     issuer,
		reconciler: reconciler,
		repo:       repo,
		catalog:    catalog,
		idemp:      idemp,
		audit:      audit,
	}
}

// ticketView is the read model exposed outside the core. The fee breakdown
// is reporting-only and stays internal.
type ticketView struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	SeatNumber  *int      `json:"seat_number"`
	TripID      uuid.UUID `json:"trip_id"`
	Trip        string    `json:"trip,omitempty"`
	Price       int64     `json:"price"`
	Status      string    `json:"status"`
	DepartureAt time.Time `json:"departure_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// checkoutView is what the buyer's client needs to build the gateway
// redirect. The integrity signature pins the amount.
type checkoutView struct {
	Reference          string `json:"reference"`
	AmountInCents      int64  `json:"amount_in_cents"`
	Currency           string `json:"currency"`
	IntegritySignature string `json:"integrity_signature"`
}

func newTicketView(t domain.Ticket, tripDescription string) ticketView {
	return ticketView{
		ID:          t.ID,
		Code:        t.Code,
		SeatNumber:  t.SeatNumber,
		TripID:      t.TripID,
		Trip:        tripDescription,
		Price:       t.Price,
		Status:      string(t.Status),
		DepartureAt: t.DepartureAt,
		ExpiresAt:   t.ExpiresAt,
	}
}

func (h *Handlers) IssueTicket(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		TripID uuid.UUID `json:"trip_id"`
		UserID uuid.UUID `json:"user_id"`
		Manual bool      `json:"manual"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := h.issuer.Issue(r.Context(), req.TripID, req.UserID, req.Manual)
	if err != nil {
		writeIssueError(w, err)
		return
	}
	if h.audit != nil {
		_ = h.audit.LogIssued(r.Context(), *ticket)
	}

	trip, _ := h.catalog.GetTrip(r.Context(), ticket.TripID)
	description := ""
	if trip != nil {
		description = trip.Description()
	}

	resp := map[string]interface{}{
		"ticket": newTicketView(*ticket, description),
	}
	if ticket.Status == domain.StatusPendingPayment {
		amountInCents := ticket.Price * 100
		resp["checkout"] = checkoutView{
			Reference:          ticket.Payment.Reference,
			AmountInCents:      amountInCents,
			Currency:           h.cfg.Currency,
			IntegritySignature: payments.IntegritySignature(ticket.Payment.Reference, amountInCents, h.cfg.Currency, h.cfg.IntegritySecret),
		}
	}

	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func writeIssueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "trip not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrTripInactive):
		http.Error(w, "trip or route is not active", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrInvalidAmount):
		http.Error(w, "trip price is invalid", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrDuplicateTicket):
		http.Error(w, "buyer already holds a ticket for this trip", http.StatusConflict)
	case errors.Is(err, domain.ErrCapacityFull):
		http.Error(w, "trip is sold out", http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "busy, try again", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	ticket, err := h.repo.GetTicket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "ticket not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	trip, _ := h.catalog.GetTrip(r.Context(), ticket.TripID)
	description := ""
	if trip != nil {
		description = trip.Description()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newTicketView(*ticket, description))
}

// PaymentWebhook answers the gateway, not the buyer: 200 for any understood
// delivery (including unknown references and redeliveries, to stop retries),
// 401 only for a checksum mismatch, 500 only for internal failure so the
// gateway retries.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var evt payments.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), evt)
	if err != nil {
		if errors.Is(err, domain.ErrBadSignature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": string(result)})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

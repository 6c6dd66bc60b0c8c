package payments

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
)

// Result says what a delivery did. Everything except an error answers the
// gateway with success so it stops retrying.
type Result string

const (
	ResultApplied          Result = "applied"
	ResultAlreadySettled   Result = "already_settled"
	ResultUnknownReference Result = "unknown_reference"
	ResultIgnored          Result = "ignored"
)

// TicketSettler applies a terminal payment outcome to the ticket holding the
// reference. The status check and the write are one atomic compare-and-swap:
// applied is false when the ticket is no longer pending.
type TicketSettler interface {
	SettlePayment(ctx context.Context, reference string, upd domain.PaymentUpdate) (applied bool, err error)
}

// AuditTrail records reconciliation outcomes and signature failures for
// after-the-fact investigation. Failures to write it never fail the webhook.
type AuditTrail interface {
	LogReconciliation(ctx context.Context, reference, outcome string) error
	LogSignatureFailure(ctx context.Context, event string, timestamp int64) error
}

type Reconciler struct {
	settler          TicketSettler
	audit            AuditTrail
	logger           observability.Logger
	webhookSecret    string
	enforceSignature bool
}

func NewReconciler(settler TicketSettler, audit AuditTrail, logger observability.Logger, webhookSecret string, enforceSignature bool) *Reconciler {
	return &Reconciler{
		settler:          settler,
		audit:            audit,
		logger:           logger,
		webhookSecret:    webhookSecret,
		enforceSignature: enforceSignature,
	}
}

// Reconcile processes one gateway delivery. Redelivery of the same event is
// a no-op: only the delivery that still observes a pending ticket performs
// the transition. Returns domain.ErrBadSignature for a checksum mismatch and
// wraps store failures so the handler can answer 500 and let the gateway
// retry.
func (r *Reconciler) Reconcile(ctx context.Context, evt Event) (Result, error) {
	if r.enforceSignature && !evt.VerifyChecksum(r.webhookSecret) {
		observability.SignatureFailures.Inc()
		r.logger.WithField("event", evt.Event).
			WithField("reference", evt.Data.Transaction.Reference).
			Warn("webhook checksum mismatch")
		if r.audit != nil {
			_ = r.audit.LogSignatureFailure(ctx, evt.Event, evt.Timestamp)
		}
		return "", domain.ErrBadSignature
	}

	if evt.Event != EventTransactionUpdated {
		observability.WebhookEvents.WithLabelValues(string(ResultIgnored)).Inc()
		return ResultIgnored, nil
	}

	tx := evt.Data.Transaction
	upd, terminal := transitionFor(tx)
	if !terminal {
		observability.WebhookEvents.WithLabelValues(string(ResultIgnored)).Inc()
		return ResultIgnored, nil
	}

	applied, err := r.settler.SettlePayment(ctx, tx.Reference, upd)
	if errors.Is(err, domain.ErrNotFound) {
		// Stale or foreign reference. Answer success to stop retries but
		// leave a trace for investigation.
		observability.WebhookEvents.WithLabelValues(string(ResultUnknownReference)).Inc()
		r.logger.WithField("reference", tx.Reference).Warn("webhook for unknown payment reference")
		if r.audit != nil {
			_ = r.audit.LogReconciliation(ctx, tx.Reference, string(ResultUnknownReference))
		}
		return ResultUnknownReference, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "settle payment")
	}

	result := ResultApplied
	if !applied {
		result = ResultAlreadySettled
	}
	observability.WebhookEvents.WithLabelValues(string(result)).Inc()
	if r.audit != nil {
		_ = r.audit.LogReconciliation(ctx, tx.Reference, string(result))
	}
	return result, nil
}

// transitionFor maps a gateway status to the ticket transition. Non-terminal
// statuses (e.g. PENDING) produce no transition.
func transitionFor(tx Transaction) (domain.PaymentUpdate, bool) {
	switch tx.Status {
	case TxApproved:
		paidAt := time.Now().UTC()
		if t, err := time.Parse(time.RFC3339, tx.CreatedAt); err == nil {
			paidAt = t
		}
		return domain.PaymentUpdate{
			Status:        domain.StatusActive,
			GatewayStatus: tx.Status,
			TransactionID: tx.ID,
			Method:        tx.PaymentMethodType,
			PaidAt:        &paidAt,
		}, true
	case TxDeclined, TxVoided, TxError:
		return domain.PaymentUpdate{
			Status:        domain.StatusCancelled,
			GatewayStatus: tx.Status,
			TransactionID: tx.ID,
			Method:        tx.PaymentMethodType,
		}, true
	}
	return domain.PaymentUpdate{}, false
}

package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditTrail keeps a durable record of issuance and reconciliation decisions.
// Signature failure entries carry enough to investigate tampering but never
// the secret or the supplied checksum.
type AuditTrail struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditTrail(db *mongo.Database, logger observability.Logger) *AuditTrail {
	return &AuditTrail{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditTrail) logEvent(ctx context.Context, action string, data map[string]interface{}) error {
	entry := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, entry)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditTrail) LogIssued(ctx context.Context, t domain.Ticket) error {
	return a.logEvent(ctx, "ticket.issued", map[string]interface{}{
		"ticket_id": t.ID,
		"trip_id":   t.TripID,
		"user_id":   t.UserID,
		"seat":      t.SeatNumber,
		"price":     t.Price,
		"status":    t.Status,
	})
}

func (a *AuditTrail) LogReconciliation(ctx context.Context, reference, outcome string) error {
	return a.logEvent(ctx, "payment.reconciled", map[string]interface{}{
		"reference": reference,
		"outcome":   outcome,
	})
}

func (a *AuditTrail) LogSignatureFailure(ctx context.Context, event string, timestamp int64) error {
	return a.logEvent(ctx, "webhook.signature_failure", map[string]interface{}{
		"event":           event,
		"event_timestamp": timestamp,
	})
}

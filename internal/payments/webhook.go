package payments

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// EventTransactionUpdated is the only event kind the reconciler acts on.
const EventTransactionUpdated = "transaction.updated"

// Gateway transaction statuses that are terminal for a ticket.
const (
	TxApproved = "APPROVED"
	TxDeclined = "DECLINED"
	TxVoided   = "VOIDED"
	TxError    = "ERROR"
)

type Transaction struct {
	ID                string `json:"id"`
	Reference         string `json:"reference"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`
	PaymentMethodType string `json:"payment_method_type"`
}

// Event is the gateway callback envelope. The checksum covers the transaction
// properties the gateway lists in signature.properties, in order, followed by
// the event timestamp and the shared webhook secret.
type Event struct {
	Event string `json:"event"`
	Data  struct {
		Transaction Transaction `json:"transaction"`
	} `json:"data"`
	Signature struct {
		Properties []string `json:"properties"`
		Checksum   string   `json:"checksum"`
	} `json:"signature"`
	Timestamp int64 `json:"timestamp"`
}

func (e Event) propertyValue(path string) string {
	switch strings.TrimPrefix(path, "transaction.") {
	case "id":
		return e.Data.Transaction.ID
	case "reference":
		return e.Data.Transaction.Reference
	case "status":
		return e.Data.Transaction.Status
	case "created_at":
		return e.Data.Transaction.CreatedAt
	case "payment_method_type":
		return e.Data.Transaction.PaymentMethodType
	}
	return ""
}

// ExpectedChecksum recomputes the event signature with the webhook secret.
func (e Event) ExpectedChecksum(secret string) string {
	var b strings.Builder
	for _, p := range e.Signature.Properties {
		b.WriteString(e.propertyValue(p))
	}
	b.WriteString(strconv.FormatInt(e.Timestamp, 10))
	b.WriteString(secret)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (e Event) VerifyChecksum(secret string) bool {
	expected := e.ExpectedChecksum(secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(e.Signature.Checksum)) == 1
}

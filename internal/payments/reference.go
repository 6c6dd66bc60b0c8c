package payments

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// NewReference returns the gateway-facing payment reference. The timestamp
// keeps references roughly sortable for debugging; uniqueness is enforced by
// the ledger's unique index, not by the randomness alone.
func NewReference() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("TKT-%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTicketCode returns the short human-facing code printed on the ticket.
// Collisions are improbable and harmless; the code is not a lookup key.
func NewTicketCode() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out)
}

// IntegritySignature is embedded in the checkout payload so the gateway can
// detect a client that tampered with the amount before redirecting. The
// secret here is the checkout integrity secret, never the webhook secret.
func IntegritySignature(reference string, amountInCents int64, currency, secret string) string {
	sum := sha256.Sum256([]byte(reference + strconv.FormatInt(amountInCents, 10) + currency + secret))
	return hex.EncodeToString(sum[:])
}

func VerifyIntegritySignature(signature, reference string, amountInCents int64, currency, secret string) bool {
	expected := IntegritySignature(reference, amountInCents, currency, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

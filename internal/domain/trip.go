package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trip is one scheduled departure. Trips are owned by the catalog service;
// this core only reads them, so the struct carries just what issuance needs:
// price, capacity and the active flags of the trip and its route.
type Trip struct {
	ID            uuid.UUID
	RouteID       uuid.UUID
	CompanyID     uuid.UUID
	Origin        string
	Destination   string
	Date          time.Time
	DepartureTime string // "15:04"
	Price         int64
	Capacity      int
	Active        bool
	RouteActive   bool
}

// DepartureAt combines the trip date with its departure time. A malformed
// departure time falls back to midnight of the trip date.
func (t Trip) DepartureAt() time.Time {
	hm, err := time.Parse("15:04", t.DepartureTime)
	if err != nil {
		return t.Date
	}
	return time.Date(t.Date.Year(), t.Date.Month(), t.Date.Day(),
		hm.Hour(), hm.Minute(), 0, 0, t.Date.Location())
}

func (t Trip) Description() string {
	return t.Origin + " - " + t.Destination
}

package ticketing

import "github.com/robertarktes/transit-ticketing/internal/domain"

// NextSeat returns the seat number following the high-water mark of live
// tickets for a trip. Cancelled seats below the mark are never reassigned;
// cancelling the highest-numbered ticket lowers the mark and frees that
// number. The caller must obtain maxLive inside the same transaction that
// persists the ticket.
func NextSeat(maxLive, capacity int) (int, error) {
	next := maxLive + 1
	if next > capacity {
		return 0, domain.ErrCapacityFull
	}
	return next, nil
}

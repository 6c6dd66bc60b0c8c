package payments

import (
	"math"

	"github.com/robertarktes/transit-ticketing/internal/domain"
)

// Gateway fee schedule used for the informational estimate on each ticket.
// The gateway charges the merchant directly; this core never deducts it.
const (
	gatewayFeeRate  = 0.0285
	gatewayFeeFixed = 800
)

// Split is the decomposition of a gross charge computed at issuance and
// frozen onto the ticket.
type Split struct {
	Total               int64
	PlatformFee         int64
	CompanyNet          int64
	GatewayFeeEstimated int64
}

func (s Split) Financials() domain.Financials {
	return domain.Financials{
		PlatformFee:         s.PlatformFee,
		CompanyNet:          s.CompanyNet,
		GatewayFeeEstimated: s.GatewayFeeEstimated,
	}
}

// SplitCalculator turns a gross amount into the platform fee and the
// company's net. The rate comes from configuration at construction so the
// calculator stays deterministic under test.
type SplitCalculator struct {
	rate float64
}

func NewSplitCalculator(rate float64) SplitCalculator {
	return SplitCalculator{rate: rate}
}

// Split fails on non-positive amounts. The platform fee rounds up so the
// platform never under-collects; the company net absorbs the remainder, and
// PlatformFee+CompanyNet always equals the amount exactly.
func (c SplitCalculator) Split(amount int64) (Split, error) {
	if amount <= 0 {
		return Split{}, domain.ErrInvalidAmount
	}
	fee := int64(math.Ceil(float64(amount) * c.rate))
	return Split{
		Total:               amount,
		PlatformFee:         fee,
		CompanyNet:          amount - fee,
		GatewayFeeEstimated: int64(math.Ceil(float64(amount)*gatewayFeeRate)) + gatewayFeeFixed,
	}, nil
}

// ZeroSplit is the snapshot for manually registered (walk-up) passengers:
// no charge, no fee, no credit to the company.
func ZeroSplit() Split {
	return Split{}
}

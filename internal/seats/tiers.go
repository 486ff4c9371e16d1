package seats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// Tiers carries the per-seat monthly price of each plan tier.
type Tiers struct {
	prices map[enums.PlanTier]decimal.Decimal
}

// NewTiers reads tier prices from configuration.
func NewTiers(cfg config.SeatsConfig) (Tiers, error) {
	starter, team, business, err := cfg.Prices()
	if err != nil {
		return Tiers{}, err
	}
	return Tiers{prices: map[enums.PlanTier]decimal.Decimal{
		enums.PlanTierStarter:  starter,
		enums.PlanTierTeam:     team,
		enums.PlanTierBusiness: business,
	}}, nil
}

// PlanForSeats returns the tier a seat count falls into.
func PlanForSeats(seats int) enums.PlanTier {
	return enums.PlanTierForSeats(seats)
}

// PricePerSeat returns the configured price of one seat on the tier.
func (t Tiers) PricePerSeat(tier enums.PlanTier) decimal.Decimal {
	return t.prices[tier]
}

// MonthlyCost is seats times the per-seat price of the tier the count falls into.
func (t Tiers) MonthlyCost(seats int) decimal.Decimal {
	return t.PricePerSeat(PlanForSeats(seats)).Mul(decimal.NewFromInt(int64(seats)))
}

// Proration charges the monthly difference for the part of the period still ahead. When the
// period is unknown or already over, the full difference is returned.
func Proration(previousCost, newCost decimal.Decimal, periodStart, periodEnd *time.Time, now time.Time) decimal.Decimal {
	diff := newCost.Sub(previousCost)
	if periodStart == nil || periodEnd == nil || !periodEnd.After(*periodStart) {
		return diff.Round(2)
	}
	if !now.Before(*periodEnd) {
		return diff.Round(2)
	}
	if now.Before(*periodStart) {
		now = *periodStart
	}
	total := decimal.NewFromInt(int64(periodEnd.Sub(*periodStart) / time.Second))
	remaining := decimal.NewFromInt(int64(periodEnd.Sub(now) / time.Second))
	return diff.Mul(remaining).Div(total).Round(2)
}

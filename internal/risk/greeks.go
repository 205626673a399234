package risk

import (
	"time"

	"optionsim/internal/models"
	"optionsim/pkg/utils"
)

// atmBand is the moneyness band, as a fraction of strike, inside which a
// contract is treated as at-the-money.
const atmBand = 0.02

// ApproximateGreeks returns coarse moneyness-based risk indicators for one
// leg. These are teaching approximations, not a pricing model: delta
// collapses to the {-1, 0, 1} family with a half step at the money, and
// gamma/theta/vega only distinguish near-the-money from far.
func ApproximateGreeks(leg models.OptionLeg, underlyingPrice float64, daysToExDiv int) models.RiskMetrics {
	metrics := models.RiskMetrics{}

	atm := isNearTheMoney(leg.Strike, underlyingPrice)
	itm := isInTheMoney(leg, underlyingPrice)

	switch {
	case atm:
		metrics.Delta = 0.5
	case itm:
		metrics.Delta = 1
	default:
		metrics.Delta = 0
	}
	if leg.OptionType == models.InstrumentPut {
		metrics.Delta = -metrics.Delta
	}
	if leg.Action == models.LegSell {
		metrics.Delta = -metrics.Delta
	}

	if atm {
		metrics.Gamma = 0.10
		metrics.Vega = 0.10
	} else {
		metrics.Gamma = 0.02
		metrics.Vega = 0.05
	}

	// Theta decays the premium linearly to expiry; short legs collect it.
	days := daysToExpiry(leg.Expiry)
	theta := -leg.Premium / float64(days)
	if leg.Action == models.LegSell {
		theta = -theta
	}
	metrics.Theta = utils.Round2(theta)

	metrics.EarlyAssignmentProb = earlyAssignmentProb(leg, itm, daysToExDiv)
	return metrics
}

func isNearTheMoney(strike, price float64) bool {
	if strike <= 0 {
		return false
	}
	diff := price - strike
	if diff < 0 {
		diff = -diff
	}
	return diff <= atmBand*strike
}

func isInTheMoney(leg models.OptionLeg, price float64) bool {
	if leg.OptionType == models.InstrumentCall {
		return price > leg.Strike
	}
	return price < leg.Strike
}

func daysToExpiry(expiry time.Time) int {
	days := int(time.Until(expiry).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// earlyAssignmentProb is a heuristic: short in-the-money contracts carry
// assignment risk, sharply higher just before an ex-dividend date.
func earlyAssignmentProb(leg models.OptionLeg, itm bool, daysToExDiv int) float64 {
	if leg.Action != models.LegSell || !itm {
		return 0
	}
	if daysToExDiv > 0 && daysToExDiv <= DefaultParams().DividendRiskDays {
		return 0.8
	}
	return 0.3
}

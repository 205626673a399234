package risk

import (
	"math"

	"optionsim/internal/models"
	"optionsim/pkg/utils"
)

// UnboundedLoss is the sentinel for positions with no loss bound, such as
// a short option without a stop.
const UnboundedLoss = math.MaxFloat64

// CalculateMaxLoss returns the worst-case loss for a position given an
// optional stop-loss level. Stops are price levels on the underlying for
// stock and on the option premium for short options.
func CalculateMaxLoss(position *models.Position, stopLoss *float64) float64 {
	qty := position.AbsQuantity()

	if !position.IsOption() {
		if stopLoss == nil {
			return utils.Round2(position.CurrentPrice * qty)
		}
		return utils.Round2(max0(position.CurrentPrice-*stopLoss) * qty)
	}

	if position.PositionType == models.PositionLong {
		// A long option can lose at most the premium paid.
		return utils.Round2(position.PurchasePrice * qty * models.ContractMultiplier)
	}

	if stopLoss == nil {
		return UnboundedLoss
	}

	// Short option with a stop: loss is the adverse move from strike to
	// the stop level, net of premium collected.
	var adverse float64
	if position.Type == models.InstrumentCall {
		adverse = max0(*stopLoss - position.Strike)
	} else {
		adverse = max0(position.Strike - *stopLoss)
	}
	loss := (adverse - position.PurchasePrice) * qty * models.ContractMultiplier
	return utils.Round2(max0(loss))
}

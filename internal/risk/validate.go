package risk

import (
	"fmt"

	"optionsim/internal/errors"
	"optionsim/internal/models"
)

// ValidateLegs checks a proposed leg set before any margin or trade
// computation. Every violation is collected so the caller sees all
// problems in one aggregated message.
func ValidateLegs(legs []models.OptionLeg) error {
	violations := &errors.ValidationErrors{}

	if len(legs) == 0 {
		violations.Add("legs", len(legs), "at least one leg required")
		return violations
	}

	for i, leg := range legs {
		prefix := fmt.Sprintf("legs[%d]", i)
		if leg.Symbol == "" {
			violations.Add(prefix+".symbol", leg.Symbol, "symbol required")
		}
		if leg.OptionType != models.InstrumentCall && leg.OptionType != models.InstrumentPut {
			violations.Add(prefix+".optionType", string(leg.OptionType), "must be call or put")
		}
		if leg.Action != models.LegBuy && leg.Action != models.LegSell {
			violations.Add(prefix+".action", string(leg.Action), "must be buy or sell")
		}
		if leg.Quantity <= 0 {
			violations.Add(prefix+".quantity", leg.Quantity, "must be positive")
		}
		if leg.Strike <= 0 {
			violations.Add(prefix+".strike", leg.Strike, "must be positive")
		}
		if leg.Expiry.IsZero() {
			violations.Add(prefix+".expiry", leg.Expiry, "expiry required")
		}
		if leg.Premium < 0 {
			violations.Add(prefix+".premium", leg.Premium, "must be non-negative")
		}
	}

	if violations.HasErrors() {
		return violations
	}
	return nil
}

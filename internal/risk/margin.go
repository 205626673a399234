// Package risk computes margin requirements, loss bounds, and coarse risk
// indicators for option strategies. All functions are pure over the price
// snapshot they are given.
package risk

import (
	"strings"

	"optionsim/internal/errors"
	"optionsim/internal/models"
	"optionsim/pkg/utils"
)

// Params holds the tunable risk knobs. The composition root builds one
// from configuration; the package-level functions use DefaultParams.
type Params struct {
	// IncomeETFs are the covered-call income ETFs with strategy-specific
	// margin treatment.
	IncomeETFs map[string]bool
	// DividendRiskFactor scales collar margin near an ex-dividend date.
	DividendRiskFactor float64
	// DividendRiskDays is the ex-dividend proximity inside which collar
	// margin is scaled up.
	DividendRiskDays int
	// AmberUtilization and RedUtilization are the status band floors.
	AmberUtilization float64
	RedUtilization   float64
}

// DefaultParams returns the built-in risk parameters.
func DefaultParams() Params {
	return NewParams([]string{"MSTY", "TSLY", "NVDY", "CONY", "ULTY", "YMAX"}, 1.5, 5, 60, 80)
}

// NewParams builds risk parameters from configuration values.
func NewParams(incomeETFs []string, dividendRiskFactor float64, dividendRiskDays int, amberUtilization, redUtilization float64) Params {
	etfs := make(map[string]bool, len(incomeETFs))
	for _, symbol := range incomeETFs {
		etfs[strings.ToUpper(symbol)] = true
	}
	return Params{
		IncomeETFs:         etfs,
		DividendRiskFactor: dividendRiskFactor,
		DividendRiskDays:   dividendRiskDays,
		AmberUtilization:   amberUtilization,
		RedUtilization:     redUtilization,
	}
}

// IsIncomeETF reports whether symbol is a recognized income ETF.
func (p Params) IsIncomeETF(symbol string) bool {
	return p.IncomeETFs[strings.ToUpper(symbol)]
}

// IsIncomeETF reports whether symbol is a recognized income ETF under the
// default parameters.
func IsIncomeETF(symbol string) bool {
	return DefaultParams().IsIncomeETF(symbol)
}

// CalculateMargin computes the Reg-T style margin requirement for a leg
// set. A two-leg spread (opposite actions) requires the net short-over-long
// notional, floored at zero. Anything else is margined as the sum of naked
// requirements over the sell-side legs.
func CalculateMargin(legs []models.OptionLeg, underlyingPrice float64) float64 {
	if isTwoLegSpread(legs) {
		var shortNotional, longNotional float64
		for _, leg := range legs {
			notional := leg.Strike * float64(leg.Quantity) * models.ContractMultiplier
			if leg.Action == models.LegSell {
				shortNotional += notional
			} else {
				longNotional += notional
			}
		}
		if shortNotional <= longNotional {
			return 0
		}
		return utils.Round2(shortNotional - longNotional)
	}

	total := 0.0
	for _, leg := range legs {
		if leg.Action != models.LegSell {
			continue
		}
		total += nakedMargin(leg, underlyingPrice)
	}
	return utils.Round2(total)
}

// nakedMargin is the Reg-T naked-option requirement for one short leg:
// premium plus 20% of strike less the out-of-the-money amount, floored at
// premium plus 10% of strike.
func nakedMargin(leg models.OptionLeg, underlyingPrice float64) float64 {
	qty := float64(leg.Quantity)
	premium := leg.Premium * qty * models.ContractMultiplier
	strikeNotional := leg.Strike * qty * models.ContractMultiplier

	var otm float64
	if leg.OptionType == models.InstrumentCall {
		otm = max0(leg.Strike - underlyingPrice)
	} else {
		otm = max0(underlyingPrice - leg.Strike)
	}

	standard := premium + 0.20*strikeNotional - otm*qty*models.ContractMultiplier
	minimum := premium + 0.10*strikeNotional
	if standard > minimum {
		return standard
	}
	return minimum
}

func isTwoLegSpread(legs []models.OptionLeg) bool {
	return len(legs) == 2 && legs[0].Action != legs[1].Action
}

// CalculateETFMargin applies income-ETF strategy overrides before falling
// back to the generic requirement. Covered calls require no margin on any
// underlying since the stock covers assignment.
func (p Params) CalculateETFMargin(symbol string, legs []models.OptionLeg, underlyingPrice, dividendAmount float64, daysToExDiv int) float64 {
	switch classifyStrategy(legs) {
	case strategyCoveredCall:
		return 0
	case strategyCashSecuredPut:
		if p.IsIncomeETF(symbol) {
			leg := legs[0]
			return utils.Round2(leg.Strike * models.ContractMultiplier * float64(leg.Quantity))
		}
	case strategyCollar:
		if p.IsIncomeETF(symbol) {
			call, put := collarLegs(legs)
			width := call.Strike - put.Strike
			base := width
			if floor := 0.10 * underlyingPrice; floor > base {
				base = floor
			}
			margin := base * models.ContractMultiplier * float64(call.Quantity)
			if daysToExDiv > 0 && daysToExDiv <= p.DividendRiskDays {
				margin *= p.DividendRiskFactor
			}
			return utils.Round2(margin)
		}
	}
	return CalculateMargin(legs, underlyingPrice)
}

// CalculateETFMargin applies the income-ETF overrides under the default
// parameters.
func CalculateETFMargin(symbol string, legs []models.OptionLeg, underlyingPrice, dividendAmount float64, daysToExDiv int) float64 {
	return DefaultParams().CalculateETFMargin(symbol, legs, underlyingPrice, dividendAmount, daysToExDiv)
}

type strategy int

const (
	strategyOther strategy = iota
	strategyCoveredCall
	strategyCashSecuredPut
	strategyCollar
)

// classifyStrategy recognizes the leg shapes with special margin
// treatment. A single short call is a covered call (the simulator only
// permits it against held stock), a single short put is cash-secured, and
// short-call-plus-long-put is a collar.
func classifyStrategy(legs []models.OptionLeg) strategy {
	switch len(legs) {
	case 1:
		leg := legs[0]
		if leg.Action != models.LegSell {
			return strategyOther
		}
		if leg.OptionType == models.InstrumentCall {
			return strategyCoveredCall
		}
		return strategyCashSecuredPut
	case 2:
		call, put := collarLegs(legs)
		if call != nil && put != nil &&
			call.Action == models.LegSell && put.Action == models.LegBuy {
			return strategyCollar
		}
	}
	return strategyOther
}

// collarLegs splits a two-leg set into its call and put legs; either may be
// nil when the shape does not match.
func collarLegs(legs []models.OptionLeg) (call, put *models.OptionLeg) {
	for i := range legs {
		switch legs[i].OptionType {
		case models.InstrumentCall:
			call = &legs[i]
		case models.InstrumentPut:
			put = &legs[i]
		}
	}
	return call, put
}

// UtilizationStatus classifies margin pressure for user-facing warnings.
type UtilizationStatus string

const (
	StatusSafe  UtilizationStatus = "safe"
	StatusAmber UtilizationStatus = "amber"
	StatusRed   UtilizationStatus = "red"
)

// CalculateMarginUtilization returns the margin-to-cash percentage and its
// status band. Non-positive cash with any requirement is fully utilized.
func (p Params) CalculateMarginUtilization(marginRequirement, cashBalance float64) (float64, UtilizationStatus) {
	if cashBalance <= 0 {
		return 100, StatusRed
	}
	utilization := utils.Round2(marginRequirement / cashBalance * 100)
	switch {
	case utilization >= p.RedUtilization:
		return utilization, StatusRed
	case utilization >= p.AmberUtilization:
		return utilization, StatusAmber
	default:
		return utilization, StatusSafe
	}
}

// CalculateMarginUtilization classifies margin pressure under the default
// parameters.
func CalculateMarginUtilization(marginRequirement, cashBalance float64) (float64, UtilizationStatus) {
	return DefaultParams().CalculateMarginUtilization(marginRequirement, cashBalance)
}

// CheckBuyingPower verifies the account can carry the margin for a
// proposed leg set, using the same strategy-aware requirement the margin
// display shows. A deficit blocks execution with a typed error; the trade
// is never clamped.
func (p Params) CheckBuyingPower(symbol string, legs []models.OptionLeg, underlyingPrice, dividendAmount float64, daysToExDiv int, cashBalance float64) (float64, error) {
	if err := ValidateLegs(legs); err != nil {
		return 0, err
	}
	required := p.CalculateETFMargin(symbol, legs, underlyingPrice, dividendAmount, daysToExDiv)
	if required > cashBalance {
		return required, errors.NewInsufficientBuyingPowerError(required, cashBalance)
	}
	return required, nil
}

// CheckBuyingPower runs the pre-trade check under the default parameters.
func CheckBuyingPower(symbol string, legs []models.OptionLeg, underlyingPrice, dividendAmount float64, daysToExDiv int, cashBalance float64) (float64, error) {
	return DefaultParams().CheckBuyingPower(symbol, legs, underlyingPrice, dividendAmount, daysToExDiv, cashBalance)
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

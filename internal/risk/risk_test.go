package risk

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"optionsim/internal/errors"
	"optionsim/internal/models"
)

func sellLeg(optionType models.InstrumentType, strike, premium float64, qty int) models.OptionLeg {
	return models.OptionLeg{
		Symbol:     "MSTY",
		OptionType: optionType,
		Action:     models.LegSell,
		Quantity:   qty,
		Strike:     strike,
		Expiry:     time.Now().AddDate(0, 1, 0),
		Premium:    premium,
	}
}

func buyLeg(optionType models.InstrumentType, strike, premium float64, qty int) models.OptionLeg {
	leg := sellLeg(optionType, strike, premium, qty)
	leg.Action = models.LegBuy
	return leg
}

func TestCalculateMarginNakedCall(t *testing.T) {
	// OTM call: strike 30, price 25, premium 1.50, qty 1.
	// standard = 150 + 0.20*3000 - 5*100 = 250; minimum = 150 + 300 = 450.
	legs := []models.OptionLeg{sellLeg(models.InstrumentCall, 30, 1.50, 1)}
	if got := CalculateMargin(legs, 25); got != 450.00 {
		t.Fatalf("margin=%v, want 450.00", got)
	}
}

func TestCalculateMarginNakedPutITM(t *testing.T) {
	// ITM put: strike 30, price 25, premium 5.00, qty 1. OTM amount is 0.
	// standard = 500 + 600 - 0 = 1100; minimum = 500 + 300 = 800.
	legs := []models.OptionLeg{sellLeg(models.InstrumentPut, 30, 5.00, 1)}
	if got := CalculateMargin(legs, 25); got != 1100.00 {
		t.Fatalf("margin=%v, want 1100.00", got)
	}
}

func TestCalculateMarginIgnoresBuyLegs(t *testing.T) {
	legs := []models.OptionLeg{
		buyLeg(models.InstrumentCall, 30, 1.50, 1),
		buyLeg(models.InstrumentPut, 20, 1.00, 1),
	}
	if got := CalculateMargin(legs, 25); got != 0 {
		t.Fatalf("margin=%v, want 0 for all-long legs", got)
	}
}

func TestCalculateMarginTwoLegSpread(t *testing.T) {
	legs := []models.OptionLeg{
		sellLeg(models.InstrumentCall, 30, 2.00, 1),
		buyLeg(models.InstrumentCall, 35, 1.00, 1),
	}
	// Short notional 3000 vs long notional 3500: floored at zero.
	if got := CalculateMargin(legs, 28); got != 0 {
		t.Fatalf("margin=%v, want 0", got)
	}

	legs = []models.OptionLeg{
		sellLeg(models.InstrumentPut, 30, 2.00, 1),
		buyLeg(models.InstrumentPut, 25, 1.00, 1),
	}
	if got := CalculateMargin(legs, 28); got != 500.00 {
		t.Fatalf("margin=%v, want 500.00 (3000-2500)", got)
	}
}

func TestETFMarginCoveredCallIsZero(t *testing.T) {
	legs := []models.OptionLeg{sellLeg(models.InstrumentCall, 30, 2.00, 1)}
	if got := CalculateETFMargin("MSTY", legs, 28, 0.5, 10); got != 0 {
		t.Fatalf("margin=%v, want 0 for covered call", got)
	}
	// Covered calls are free of margin on any underlying.
	if got := CalculateETFMargin("AAPL", legs, 180, 0, 0); got != 0 {
		t.Fatalf("margin=%v, want 0 for non-ETF covered call", got)
	}
}

func TestETFMarginCashSecuredPut(t *testing.T) {
	legs := []models.OptionLeg{sellLeg(models.InstrumentPut, 25, 1.50, 2)}
	if got := CalculateETFMargin("TSLY", legs, 26, 0, 0); got != 5000.00 {
		t.Fatalf("margin=%v, want 5000.00 (strike*100*qty)", got)
	}
}

func TestETFMarginCollarDividendRisk(t *testing.T) {
	legs := []models.OptionLeg{
		sellLeg(models.InstrumentCall, 30, 2.00, 1),
		buyLeg(models.InstrumentPut, 20, 1.00, 1),
	}
	price := 25.0
	base := math.Max(30-20, 0.10*price) * 100 // width dominates

	if got := CalculateETFMargin("TSLY", legs, price, 0.80, 3); got != base*1.5 {
		t.Fatalf("margin=%v, want %v (base x1.5 near ex-div)", got, base*1.5)
	}
	if got := CalculateETFMargin("TSLY", legs, price, 0.80, 10); got != base {
		t.Fatalf("margin=%v, want %v (no dividend factor)", got, base)
	}
	if got := CalculateETFMargin("TSLY", legs, price, 0.80, 0); got != base {
		t.Fatalf("margin=%v, want %v (zero days means no upcoming ex-div)", got, base)
	}
}

func TestETFMarginNonETFFallsBack(t *testing.T) {
	legs := []models.OptionLeg{sellLeg(models.InstrumentPut, 30, 5.00, 1)}
	want := CalculateMargin(legs, 25)
	if got := CalculateETFMargin("AAPL", legs, 25, 0, 0); got != want {
		t.Fatalf("margin=%v, want generic %v", got, want)
	}
}

func TestMarginUtilizationThresholds(t *testing.T) {
	tests := []struct {
		margin, cash float64
		utilization  float64
		status       UtilizationStatus
	}{
		{5999, 10000, 59.99, StatusSafe},
		{6000, 10000, 60.00, StatusAmber},
		{7999, 10000, 79.99, StatusAmber},
		{8000, 10000, 80.00, StatusRed},
		{100, 0, 100, StatusRed},
		{100, -50, 100, StatusRed},
	}
	for _, tt := range tests {
		utilization, status := CalculateMarginUtilization(tt.margin, tt.cash)
		if utilization != tt.utilization || status != tt.status {
			t.Fatalf("margin=%v cash=%v: got (%v,%v), want (%v,%v)",
				tt.margin, tt.cash, utilization, status, tt.utilization, tt.status)
		}
	}
}

func TestMaxLossStock(t *testing.T) {
	position := &models.Position{
		Symbol:       "MSTY",
		Type:         models.InstrumentStock,
		PositionType: models.PositionLong,
		Quantity:     100,
		CurrentPrice: 45.0,
	}
	if got := CalculateMaxLoss(position, nil); got != 4500.00 {
		t.Fatalf("max loss=%v, want full value 4500.00", got)
	}
	stop := 40.0
	if got := CalculateMaxLoss(position, &stop); got != 500.00 {
		t.Fatalf("max loss=%v, want 500.00 with stop", got)
	}
}

func TestMaxLossLongOptionIsPremiumBounded(t *testing.T) {
	position := &models.Position{
		Symbol:        "MSTY",
		Type:          models.InstrumentCall,
		PositionType:  models.PositionLong,
		Quantity:      2,
		Strike:        25,
		PurchasePrice: 1.50,
		CurrentPrice:  2.00,
	}
	if got := CalculateMaxLoss(position, nil); got != 300.00 {
		t.Fatalf("max loss=%v, want premium 300.00", got)
	}
}

func TestMaxLossShortOption(t *testing.T) {
	position := &models.Position{
		Symbol:        "MSTY",
		Type:          models.InstrumentCall,
		PositionType:  models.PositionShort,
		Quantity:      1,
		Strike:        25,
		PurchasePrice: 1.50,
		CurrentPrice:  2.00,
	}
	if got := CalculateMaxLoss(position, nil); got != UnboundedLoss {
		t.Fatal("short option without a stop must be unbounded")
	}
	stop := 30.0
	// (30-25-1.50) * 100
	if got := CalculateMaxLoss(position, &stop); got != 350.00 {
		t.Fatalf("max loss=%v, want 350.00", got)
	}
}

func TestValidateLegsAggregatesViolations(t *testing.T) {
	legs := []models.OptionLeg{{
		OptionType: models.InstrumentCall,
		Action:     models.LegSell,
		Quantity:   0,
		Strike:     -5,
	}}
	err := ValidateLegs(legs)
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var violations *errors.ValidationErrors
	if !errors.As(err, &violations) {
		t.Fatalf("error type: %T", err)
	}
	// symbol, quantity, strike and expiry are all bad.
	if len(violations.Violations) != 4 {
		t.Fatalf("violations=%d, want 4: %v", len(violations.Violations), err)
	}
	if !strings.HasPrefix(err.Error(), "invalid input: ") {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestValidateLegsEmpty(t *testing.T) {
	if err := ValidateLegs(nil); err == nil {
		t.Fatal("empty leg set must be rejected")
	}
}

func TestCheckBuyingPower(t *testing.T) {
	legs := []models.OptionLeg{sellLeg(models.InstrumentPut, 30, 5.00, 1)}

	// AAPL is not a recognized ETF, so the naked Reg-T requirement applies.
	required, err := CheckBuyingPower("AAPL", legs, 25, 0, 0, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if required != 1100.00 {
		t.Fatalf("required=%v, want 1100.00", required)
	}

	_, err = CheckBuyingPower("AAPL", legs, 25, 0, 0, 500)
	var deficit *errors.InsufficientBuyingPowerError
	if !errors.As(err, &deficit) {
		t.Fatalf("error type: %T", err)
	}
	if deficit.Required != 1100.00 || deficit.Available != 500 {
		t.Fatalf("deficit=%+v", deficit)
	}
	if err.Error() != "insufficient buying power: required $1100.00, available $500.00" {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestCheckBuyingPowerMatchesDisplayedMargin(t *testing.T) {
	// A covered call carries zero margin, so the pre-trade gate must pass
	// even with almost no cash: the enforced requirement is the same
	// strategy-aware number the margin display shows.
	legs := []models.OptionLeg{sellLeg(models.InstrumentCall, 30, 2.00, 1)}

	displayed := CalculateETFMargin("MSTY", legs, 28, 0, 0)
	enforced, err := CheckBuyingPower("MSTY", legs, 28, 0, 0, 100)
	if err != nil {
		t.Fatalf("covered call must not be blocked: %v", err)
	}
	if enforced != displayed || enforced != 0 {
		t.Fatalf("enforced=%v displayed=%v, want both 0", enforced, displayed)
	}

	// Cash-secured put on a recognized ETF gates on the full strike
	// notional, again matching the display.
	csp := []models.OptionLeg{sellLeg(models.InstrumentPut, 25, 1.50, 1)}
	displayed = CalculateETFMargin("TSLY", csp, 26, 0, 0)
	enforced, err = CheckBuyingPower("TSLY", csp, 26, 0, 0, 1000)
	var deficit *errors.InsufficientBuyingPowerError
	if !errors.As(err, &deficit) {
		t.Fatalf("error type: %T", err)
	}
	if enforced != displayed || enforced != 2500.00 {
		t.Fatalf("enforced=%v displayed=%v, want both 2500.00", enforced, displayed)
	}
}

func TestParamsDriveThresholdsAndETFSet(t *testing.T) {
	params := NewParams([]string{"SPYI"}, 2.0, 3, 50, 70)

	if !params.IsIncomeETF("spyi") || params.IsIncomeETF("MSTY") {
		t.Fatal("ETF set must come from the configured list")
	}

	// Custom bands: amber at 50, red at 70.
	if _, status := params.CalculateMarginUtilization(5500, 10000); status != StatusAmber {
		t.Fatalf("55%% under amber=50 must be amber, got %v", status)
	}
	if _, status := params.CalculateMarginUtilization(7000, 10000); status != StatusRed {
		t.Fatalf("70%% under red=70 must be red, got %v", status)
	}

	// Custom dividend factor and window.
	legs := []models.OptionLeg{
		sellLeg(models.InstrumentCall, 30, 2.00, 1),
		buyLeg(models.InstrumentPut, 20, 1.00, 1),
	}
	legs[0].Symbol = "SPYI"
	legs[1].Symbol = "SPYI"
	base := 10.0 * 100
	if got := params.CalculateETFMargin("SPYI", legs, 25, 0.80, 3); got != base*2.0 {
		t.Fatalf("margin=%v, want %v with configured factor 2.0", got, base*2.0)
	}
	if got := params.CalculateETFMargin("SPYI", legs, 25, 0.80, 4); got != base {
		t.Fatalf("margin=%v, want %v outside the 3-day window", got, base)
	}
}

func TestApproximateGreeks(t *testing.T) {
	leg := buyLeg(models.InstrumentCall, 25, 1.50, 1)

	deep := ApproximateGreeks(leg, 30, 0)
	if deep.Delta != 1 {
		t.Fatalf("ITM call delta=%v, want 1", deep.Delta)
	}
	atm := ApproximateGreeks(leg, 25.2, 0)
	if atm.Delta != 0.5 {
		t.Fatalf("ATM call delta=%v, want 0.5", atm.Delta)
	}
	otm := ApproximateGreeks(leg, 20, 0)
	if otm.Delta != 0 {
		t.Fatalf("OTM call delta=%v, want 0", otm.Delta)
	}

	put := buyLeg(models.InstrumentPut, 25, 1.50, 1)
	if g := ApproximateGreeks(put, 20, 0); g.Delta != -1 {
		t.Fatalf("ITM put delta=%v, want -1", g.Delta)
	}
}

func TestEarlyAssignmentRisk(t *testing.T) {
	shortITM := sellLeg(models.InstrumentCall, 25, 1.50, 1)

	nearDiv := ApproximateGreeks(shortITM, 30, 3)
	if nearDiv.EarlyAssignmentProb != 0.8 {
		t.Fatalf("prob=%v, want 0.8 near ex-div", nearDiv.EarlyAssignmentProb)
	}
	noDiv := ApproximateGreeks(shortITM, 30, 0)
	if noDiv.EarlyAssignmentProb != 0.3 {
		t.Fatalf("prob=%v, want 0.3", noDiv.EarlyAssignmentProb)
	}
	longITM := ApproximateGreeks(buyLeg(models.InstrumentCall, 25, 1.50, 1), 30, 3)
	if longITM.EarlyAssignmentProb != 0 {
		t.Fatalf("long legs carry no assignment risk, got %v", longITM.EarlyAssignmentProb)
	}
}

func TestProperty_CoveredCallZeroMarginOnAnyETF(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	etfs := []string{"MSTY", "TSLY", "NVDY", "CONY", "ULTY", "YMAX"}

	properties.Property("covered call margin is zero regardless of strike and price", prop.ForAll(
		func(etfIdx, strikeCents, priceCents, qty int) bool {
			legs := []models.OptionLeg{
				sellLeg(models.InstrumentCall, float64(strikeCents)/100, 1.0, qty),
			}
			return CalculateETFMargin(etfs[etfIdx], legs, float64(priceCents)/100, 0, 0) == 0
		},
		gen.IntRange(0, 5),
		gen.IntRange(100, 100000),
		gen.IntRange(100, 100000),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_MarginIsNeverNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genLeg := gopter.CombineGens(
		gen.Bool(), // call?
		gen.Bool(), // sell?
		gen.IntRange(1, 50),
		gen.IntRange(100, 50000),
		gen.IntRange(0, 2000),
	).Map(func(values []interface{}) models.OptionLeg {
		optionType := models.InstrumentPut
		if values[0].(bool) {
			optionType = models.InstrumentCall
		}
		action := models.LegBuy
		if values[1].(bool) {
			action = models.LegSell
		}
		return models.OptionLeg{
			Symbol:     "MSTY",
			OptionType: optionType,
			Action:     action,
			Quantity:   values[2].(int),
			Strike:     float64(values[3].(int)) / 100,
			Expiry:     time.Now().AddDate(0, 1, 0),
			Premium:    float64(values[4].(int)) / 100,
		}
	})

	properties.Property("margin requirement is non-negative", prop.ForAll(
		func(legs []models.OptionLeg, priceCents int) bool {
			return CalculateMargin(legs, float64(priceCents)/100) >= 0
		},
		gen.SliceOf(genLeg),
		gen.IntRange(100, 100000),
	))

	properties.TestingRun(t)
}

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"optionsim/internal/config"
	"optionsim/internal/logging"
	"optionsim/internal/models"
	"optionsim/internal/risk"
)

// riskParams builds the risk knobs from configuration.
func riskParams(cfg config.RiskConfig) risk.Params {
	return risk.NewParams(
		cfg.IncomeETFSymbols,
		cfg.DividendRiskFactor,
		cfg.DividendRiskDays,
		cfg.AmberUtilization,
		cfg.RedUtilization,
	)
}

func newMarginCmd(app *App) *cobra.Command {
	var legSpecs []string
	var price float64
	var cash float64
	var dividendAmount float64
	var daysToExDiv int

	cmd := &cobra.Command{
		Use:   "margin <symbol>",
		Short: "Calculate margin requirement for an option strategy",
		Long: `Calculate the margin requirement for a proposed leg set.

Legs are given as --leg action:type:strike:premium:qty, for example:

  optionsim margin TSLY --price 12.05 \
    --leg sell:call:13:0.45:1 --leg buy:put:10:0.20:1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])

			legs, err := parseLegs(symbol, legSpecs)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if err := risk.ValidateLegs(legs); err != nil {
				output.Error("%v", err)
				return err
			}

			params := riskParams(app.Config.Risk)
			margin := params.CalculateETFMargin(symbol, legs, price, dividendAmount, daysToExDiv)
			utilization, status := params.CalculateMarginUtilization(margin, cash)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":      symbol,
					"margin":      margin,
					"utilization": utilization,
					"status":      status,
				})
			}

			fmt.Println()
			color.Cyan("Margin Requirement - %s", symbol)
			fmt.Println("----------------------------------------")
			fmt.Printf("Underlying price:  $%.2f\n", price)
			fmt.Printf("Margin required:   $%.2f\n", margin)
			fmt.Printf("Cash balance:      $%.2f\n", cash)
			fmt.Printf("Utilization:       %.2f%%\n", utilization)
			switch status {
			case risk.StatusRed:
				color.Red("Status: RED - margin pressure critical")
			case risk.StatusAmber:
				color.Yellow("Status: AMBER - approaching margin limits")
			default:
				color.Green("Status: SAFE")
			}

			required, err := params.CheckBuyingPower(symbol, legs, price, dividendAmount, daysToExDiv, cash)
			logging.LogMarginCheck(app.Logger, symbol, required, cash, err == nil)
			if err != nil {
				fmt.Println()
				color.Red("%v", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&legSpecs, "leg", nil, "leg as action:type:strike:premium:qty (repeatable)")
	cmd.Flags().Float64Var(&price, "price", 0, "underlying price")
	cmd.Flags().Float64Var(&cash, "cash", 25000, "account cash balance")
	cmd.Flags().Float64Var(&dividendAmount, "dividend", 0, "upcoming dividend amount")
	cmd.Flags().IntVar(&daysToExDiv, "ex-div-days", 0, "days to ex-dividend date (0 = none)")
	cmd.MarkFlagRequired("leg")
	cmd.MarkFlagRequired("price")
	return cmd
}

func newMaxLossCmd() *cobra.Command {
	var instrument string
	var direction string
	var quantity int
	var strike float64
	var purchase float64
	var current float64
	var stopLoss float64

	cmd := &cobra.Command{
		Use:   "maxloss <symbol>",
		Short: "Calculate the worst-case loss for a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])

			position := &models.Position{
				Symbol:        symbol,
				Type:          models.InstrumentType(instrument),
				PositionType:  models.PositionType(direction),
				Quantity:      quantity,
				Strike:        strike,
				Expiry:        time.Now().AddDate(0, 1, 0),
				PurchasePrice: purchase,
				CurrentPrice:  current,
			}

			var stop *float64
			if cmd.Flags().Changed("stop") {
				stop = &stopLoss
			}

			maxLoss := risk.CalculateMaxLoss(position, stop)

			if output.IsJSON() {
				result := map[string]interface{}{"symbol": symbol}
				if maxLoss == risk.UnboundedLoss {
					result["max_loss"] = "unbounded"
				} else {
					result["max_loss"] = maxLoss
				}
				return output.JSON(result)
			}

			fmt.Println()
			color.Cyan("Maximum Loss - %s", symbol)
			fmt.Println("----------------------------------------")
			if maxLoss == risk.UnboundedLoss {
				color.Red("Unbounded: short option without a stop-loss")
			} else {
				fmt.Printf("Worst case: $%.2f\n", maxLoss)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instrument, "type", "stock", "instrument type (stock, call, put)")
	cmd.Flags().StringVar(&direction, "direction", "long", "position direction (long, short)")
	cmd.Flags().IntVar(&quantity, "qty", 1, "position quantity")
	cmd.Flags().Float64Var(&strike, "strike", 0, "option strike")
	cmd.Flags().Float64Var(&purchase, "purchase", 0, "purchase price")
	cmd.Flags().Float64Var(&current, "current", 0, "current price")
	cmd.Flags().Float64Var(&stopLoss, "stop", 0, "stop-loss level")
	return cmd
}

// parseLegs converts action:type:strike:premium:qty specs into legs.
func parseLegs(symbol string, specs []string) ([]models.OptionLeg, error) {
	legs := make([]models.OptionLeg, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("malformed leg %q, want action:type:strike:premium:qty", spec)
		}
		strike, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed strike in leg %q: %w", spec, err)
		}
		premium, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed premium in leg %q: %w", spec, err)
		}
		qty, err := strconv.Atoi(parts[4])
		if err != nil {
			return nil, fmt.Errorf("malformed quantity in leg %q: %w", spec, err)
		}
		legs = append(legs, models.OptionLeg{
			Symbol:     symbol,
			OptionType: models.InstrumentType(strings.ToLower(parts[1])),
			Action:     models.LegAction(strings.ToLower(parts[0])),
			Quantity:   qty,
			Strike:     strike,
			Expiry:     time.Now().AddDate(0, 1, 0),
			Premium:    premium,
		})
	}
	return legs, nil
}

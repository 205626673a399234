package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"optionsim/internal/models"
	"optionsim/internal/stream"
	"optionsim/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	var feedURL string
	var tickInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the real-time P&L pipeline",
		Long: `Run the full pipeline: price ingestion, adaptive batching, portfolio
P&L recomputation, and summary fan-out.

Without --feed, a built-in paper ticker random-walks prices for the demo
portfolio so the pipeline runs fully offline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			pipe := buildPipeline(app)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			unsubscribe := pipe.hub.Subscribe(func(summary models.PortfolioPLSummary) {
				printSummary(output, summary)
			}, stream.SubscriptionOptions{})
			defer unsubscribe()

			pipe.pool.Start()
			defer pipe.pool.Stop()

			if feedURL == "" {
				feedURL = app.Config.Stream.URL
			}
			if feedURL != "" {
				for _, symbol := range pipe.portfolio.symbols() {
					pipe.transport.SubscribeToSymbol(symbol, func(models.PriceUpdate) {}, stream.SubscribeOptions{})
				}
				err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
					return pipe.transport.Connect(ctx, feedURL)
				})
				if err != nil {
					output.Error("Feed connection failed: %v", err)
					return err
				}
				defer pipe.transport.Disconnect("")
			} else {
				output.Info("No feed configured, running paper ticker")
				go pipe.runPaperTicker(ctx, tickInterval)
			}

			pipe.engine.Start(ctx)
			defer pipe.engine.Stop()
			pipe.controller.Run(ctx)
			defer pipe.controller.Stop()

			output.Success("Pipeline running, press Ctrl+C to stop")
			<-ctx.Done()
			output.Println()
			output.Info("Shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&feedURL, "feed", "", "websocket feed URL (default: stream.url from config, else paper ticker)")
	cmd.Flags().DurationVar(&tickInterval, "tick-interval", 500*time.Millisecond, "paper ticker interval")
	return cmd
}

func printSummary(output *Output, summary models.PortfolioPLSummary) {
	if output.IsJSON() {
		output.JSON(summary)
		return
	}
	output.Printf("[%s] value %.2f  unrealized %s  day %s (%.2f%%)  positions %d\n",
		summary.Timestamp.Format("15:04:05"),
		summary.TotalValue,
		output.PL(summary.TotalUnrealizedPL),
		output.PL(summary.DayChange),
		summary.DayChangePercent,
		len(summary.Positions),
	)
	for _, position := range summary.Positions {
		if !position.HasChanged {
			continue
		}
		output.Printf("  %-6s %8.2f  %s (%.2f%%)\n",
			position.Symbol,
			position.CurrentPrice,
			output.PL(position.UnrealizedPL),
			position.PercentChange,
		)
	}
}

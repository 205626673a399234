package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newMetricsCmd(app *App) *cobra.Command {
	var sampleFor time.Duration

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Sample the pipeline and print performance metrics",
		Long: `Run the paper pipeline for a short sampling window and print the
performance snapshot: update timings, cache hit rate, queue depth, and
subscriber count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			pipe := buildPipeline(app)

			ctx, cancel := context.WithTimeout(cmd.Context(), sampleFor)
			defer cancel()

			pipe.pool.Start()
			defer pipe.pool.Stop()

			go pipe.runPaperTicker(ctx, 100*time.Millisecond)
			pipe.engine.SetUpdateInterval(250 * time.Millisecond)
			pipe.engine.Start(ctx)

			<-ctx.Done()
			pipe.engine.Stop()

			metrics := pipe.engine.MetricsSnapshot()
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"total_updates":    metrics.TotalUpdates,
					"avg_update_time":  metrics.AverageUpdateTime.String(),
					"max_update_time":  metrics.MaxUpdateTime.String(),
					"cache_hit_rate":   metrics.CacheHitRate,
					"queue_size":       metrics.QueueSize,
					"subscriber_count": metrics.SubscriberCount,
					"update_frequency": metrics.UpdateFrequency.String(),
					"is_running":       metrics.IsRunning,
				})
			}

			fmt.Println()
			color.Cyan("Pipeline Metrics (%s sample)", sampleFor)
			fmt.Println("----------------------------------------")
			fmt.Printf("Total updates:     %d\n", metrics.TotalUpdates)
			fmt.Printf("Avg update time:   %s\n", metrics.AverageUpdateTime)
			fmt.Printf("Max update time:   %s\n", metrics.MaxUpdateTime)
			fmt.Printf("Cache hit rate:    %.1f%%\n", metrics.CacheHitRate*100)
			fmt.Printf("Queue size:        %d\n", metrics.QueueSize)
			fmt.Printf("Subscribers:       %d\n", metrics.SubscriberCount)
			fmt.Printf("Update frequency:  %s\n", metrics.UpdateFrequency)
			fmt.Printf("Running:           %v\n", metrics.IsRunning)
			return nil
		},
	}

	cmd.Flags().DurationVar(&sampleFor, "sample", 3*time.Second, "sampling window")
	return cmd
}

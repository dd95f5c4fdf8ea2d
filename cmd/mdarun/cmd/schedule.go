package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pymmcore-plus/mdarunner"
	"github.com/pymmcore-plus/mdarunner/demo"
)

func newScheduleCommand() *cobra.Command {
	var (
		eventsPath string
		spec       string
		iterations int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Repeatedly run the demo engine on a cron schedule, for soak testing",
		Long: `schedule drives the same demo run as "mdarun run" repeatedly on a cron
schedule, stopping after a bounded number of iterations. Useful for
soak-testing a RunPolicy's backpressure and error-handling behavior under
repeated starts rather than a single long run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cron.New()
			completed := 0
			done := make(chan struct{})

			_, err := c.AddFunc(spec, func() {
				if completed >= iterations {
					return
				}
				if err := runOnce(cmd.Context(), eventsPath); err != nil {
					fmt.Fprintf(os.Stderr, "soak iteration %d failed: %v\n", completed, err)
				}
				completed++
				if completed >= iterations {
					close(done)
				}
			})
			if err != nil {
				return fmt.Errorf("parsing cron schedule %q: %w", spec, err)
			}

			c.Start()
			defer c.Stop()

			select {
			case <-done:
			case <-cmd.Context().Done():
			}
			return cmd.Context().Err()
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "path to a JSON-lines event file (required)")
	cmd.Flags().StringVar(&spec, "cron", "@every 1m", "cron schedule (robfig/cron syntax)")
	cmd.Flags().IntVar(&iterations, "iterations", 10, "number of runs before stopping")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func runOnce(ctx context.Context, eventsPath string) error {
	f, err := os.Open(eventsPath)
	if err != nil {
		return fmt.Errorf("opening events file: %w", err)
	}
	defer f.Close()

	runner := mdarunner.NewRunner("mdarun-soak", nil)
	engine := demo.NewEngine(3, 64, 64, 1)
	events := demo.NewJSONLinesEventSource(f)
	sink := demo.NewJSONLinesConsumer(os.Stdout)
	consumers := []mdarunner.ConsumerSpec{{Name: "stdout-sink", Consumer: sink, Critical: true}}

	_, err = runner.Run(ctx, nil, events, engine, consumers, mdarunner.DefaultRunPolicy())
	return err
}

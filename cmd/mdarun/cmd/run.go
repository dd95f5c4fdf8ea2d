package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pymmcore-plus/mdarunner"
	"github.com/pymmcore-plus/mdarunner/demo"
)

func newRunCommand() *cobra.Command {
	var (
		eventsPath        string
		outputPath        string
		framesPerEvent    int
		width, height     int
		criticalError     string
		nonCriticalError  string
		backpressure      string
		hardwareSequenced bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo engine across a JSON-lines event file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(eventsPath)
			if err != nil {
				return fmt.Errorf("opening events file: %w", err)
			}
			defer f.Close()

			return runWith(cmd.Context(), f, outputPath, framesPerEvent, width, height, criticalError, nonCriticalError, backpressure, hardwareSequenced)
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "path to a JSON-lines event file (required)")
	cmd.Flags().StringVar(&outputPath, "output", "-", "path to write frame records to (by extension, e.g. .jsonl), or - for stdout")
	cmd.Flags().IntVar(&framesPerEvent, "frames-per-event", 3, "synthetic frames to emit per event")
	cmd.Flags().IntVar(&width, "width", 64, "synthetic frame width")
	cmd.Flags().IntVar(&height, "height", 64, "synthetic frame height")
	cmd.Flags().StringVar(&criticalError, "critical-error", string(mdarunner.CriticalRaise), "RAISE|CANCEL|CONTINUE")
	cmd.Flags().StringVar(&nonCriticalError, "noncritical-error", string(mdarunner.NonCriticalLog), "LOG|DISCONNECT")
	cmd.Flags().StringVar(&backpressure, "backpressure", string(mdarunner.BackpressureBlock), "BLOCK|DROP_OLDEST|DROP_NEWEST|FAIL")
	cmd.Flags().BoolVar(&hardwareSequenced, "hardware-sequenced", false, "simulate a hardware-triggered burst that halts mid-sequence on cancel, instead of a plain frame slice")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

// outputConsumerSpec builds the critical consumer spec for outputPath: "-"
// (or empty) writes JSON-lines frame records to stdout directly, anything
// else is coerced through the demo package's WriterRegistry by extension
// (mdarunner.CoerceOutputPath, spec.md §4.5).
func outputConsumerSpec(outputPath string) (mdarunner.ConsumerSpec, error) {
	if outputPath == "" || outputPath == "-" {
		sink := demo.NewJSONLinesConsumer(os.Stdout)
		return mdarunner.ConsumerSpec{Name: "stdout-sink", Consumer: sink, Critical: true}, nil
	}
	spec, err := mdarunner.CoerceOutputPath(outputPath, demo.WriterRegistry())
	if err != nil {
		return mdarunner.ConsumerSpec{}, fmt.Errorf("resolving --output %q: %w", outputPath, err)
	}
	return spec, nil
}

func runWith(ctx context.Context, eventsFile *os.File, outputPath string, framesPerEvent, width, height int, criticalError, nonCriticalError, backpressure string, hardwareSequenced bool) error {
	engine := demo.NewEngine(framesPerEvent, width, height, 1)
	engine.HardwareSequenced = hardwareSequenced
	events := demo.NewJSONLinesEventSource(eventsFile)

	outputSpec, err := outputConsumerSpec(outputPath)
	if err != nil {
		return err
	}

	policy := mdarunner.RunPolicy{
		CriticalError:    mdarunner.CriticalErrorPolicy(criticalError),
		NonCriticalError: mdarunner.NonCriticalErrorPolicy(nonCriticalError),
		Backpressure:     mdarunner.BackpressurePolicy(backpressure),
	}

	runner := mdarunner.NewRunner("mdarun", nil)

	report, err := runner.Run(ctx, nil, events, engine, nil, policy, mdarunner.WithOutputs(outputSpec))
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "run finished: status=%s consumers=%d\n", report.Status, len(report.ConsumerReports))
	for _, cr := range report.ConsumerReports {
		fmt.Fprintf(os.Stderr, "  %s: submitted=%d processed=%d dropped=%d errors=%d\n",
			cr.Name, cr.Submitted, cr.Processed, cr.Dropped, len(cr.Errors))
	}
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/pymmcore-plus/mdarunner"
	"github.com/pymmcore-plus/mdarunner/demo"
)

func newServeCommand() *cobra.Command {
	var (
		eventsPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo engine while exposing a control-plane HTTP server",
		Long: `serve starts the same demo run as "mdarun run" in the background and
exposes POST /cancel, POST /pause, and GET /status over HTTP so an operator
can drive the run from a browser or REST client instead of OS signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(eventsPath)
			if err != nil {
				return fmt.Errorf("opening events file: %w", err)
			}
			defer f.Close()

			runner := mdarunner.NewRunner("mdarun", nil)
			engine := demo.NewEngine(3, 64, 64, 1)
			events := demo.NewJSONLinesEventSource(f)
			sink := demo.NewJSONLinesConsumer(os.Stdout)
			consumers := []mdarunner.ConsumerSpec{{Name: "stdout-sink", Consumer: sink, Critical: true}}

			done := make(chan struct{})
			var reportErr error
			go func() {
				defer close(done)
				_, reportErr = runner.Run(cmd.Context(), nil, events, engine, consumers, mdarunner.DefaultRunPolicy())
			}()

			server := &http.Server{Addr: addr, Handler: controlPlaneRouter(runner)}
			serverErrs := make(chan error, 1)
			go func() { serverErrs <- server.ListenAndServe() }()

			select {
			case <-done:
				_ = server.Shutdown(context.Background())
				return reportErr
			case err := <-serverErrs:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("control-plane server: %w", err)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "path to a JSON-lines event file (required)")
	cmd.Flags().StringVar(&addr, "addr", ":8089", "control-plane listen address")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func controlPlaneRouter(runner *mdarunner.Runner) http.Handler {
	r := chi.NewRouter()

	r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) {
		runner.Cancel()
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/pause", func(w http.ResponseWriter, req *http.Request) {
		runner.TogglePause()
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		status := struct {
			Running bool                              `json:"running"`
			Paused  bool                              `json:"paused"`
			Elapsed float64                           `json:"elapsedSeconds"`
			Queues  map[string]mdarunner.QueueStatus   `json:"queues"`
		}{
			Running: runner.IsRunning(),
			Paused:  runner.IsPaused(),
			Elapsed: runner.SecondsElapsed(),
			Queues:  runner.QueueStatus(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	return r
}

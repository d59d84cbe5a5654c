package metrics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TextfileWriter periodically writes the default registry to a file in the
// node_exporter textfile collector format.
type TextfileWriter struct {
	path     string
	interval time.Duration
	gatherer prometheus.Gatherer
}

// NewTextfileWriter creates a writer for path. A non-positive interval
// defaults to 15s.
func NewTextfileWriter(path string, interval time.Duration) *TextfileWriter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &TextfileWriter{
		path:     path,
		interval: interval,
		gatherer: prometheus.DefaultGatherer,
	}
}

// Write writes the current metrics once.
func (w *TextfileWriter) Write() error {
	if err := prometheus.WriteToTextfile(w.path, w.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Run writes metrics every interval until ctx is done, then writes a final time.
func (w *TextfileWriter) Run(ctx context.Context) error {
	log.Printf("writing metrics to %s every %s", w.path, w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.Write()
		case <-ticker.C:
			if err := w.Write(); err != nil {
				log.Printf("warning: %v", err)
			}
		}
	}
}

// Path returns the textfile path.
func (w *TextfileWriter) Path() string {
	return w.path
}

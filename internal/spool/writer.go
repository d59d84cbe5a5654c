package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// Writer appends executions to a spool, one JSON object per line.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewWriter opens path for appending, creating it and its directory.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool: %w", err)
	}
	return &Writer{file: file, enc: json.NewEncoder(file)}, nil
}

// Append writes one execution. Each call is a single write so concurrent
// writers in other processes do not interleave lines.
func (w *Writer) Append(exec *models.Execution) error {
	exec.Normalize()
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("spool writer closed")
	}
	if err := w.enc.Encode(exec); err != nil {
		return fmt.Errorf("failed to append execution: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

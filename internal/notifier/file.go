package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// FileConfig holds file notifier configuration.
type FileConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the file configuration.
func (c *FileConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// FileNotifier appends alerts as JSON lines.
type FileNotifier struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileNotifier opens (or creates) the JSONL file at config.Path.
func NewFileNotifier(config FileConfig) (*FileNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid file config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert log: %w", err)
	}
	return &FileNotifier{file: f, enc: json.NewEncoder(f)}, nil
}

// Name returns "file".
func (f *FileNotifier) Name() string {
	return "file"
}

// Send appends one JSON line for the alert.
func (f *FileNotifier) Send(ctx context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return fmt.Errorf("file notifier is closed")
	}
	if err := f.enc.Encode(alert); err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (f *FileNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

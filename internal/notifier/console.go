package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// ConsoleNotifier prints alerts to a terminal.
type ConsoleNotifier struct {
	mu        sync.Mutex
	out       io.Writer
	templates *Templates
}

// NewConsoleNotifier creates a console notifier writing to out.
// A nil out writes to stderr.
func NewConsoleNotifier(out io.Writer) (*ConsoleNotifier, error) {
	if out == nil {
		out = os.Stderr
	}
	tmpl, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return &ConsoleNotifier{out: out, templates: tmpl}, nil
}

// Name returns "console".
func (c *ConsoleNotifier) Name() string {
	return "console"
}

// Send prints the alert with a severity-colored header.
func (c *ConsoleNotifier) Send(ctx context.Context, alert *models.Alert) error {
	data := AlertToTemplateData(alert)
	body, err := c.templates.RenderPlain(&data)
	if err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}

	header, rest, _ := strings.Cut(body, "\n")
	paint := severityColor(alert.Severity).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%s %s\n", paint(severityLabel(alert.Severity)), paint(header)); err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimRight(rest, "\n"), "\n") {
		if _, err := fmt.Fprintf(c.out, "     %s\n", gray(line)); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the console notifier.
func (c *ConsoleNotifier) Close() error {
	return nil
}

// severityColor returns the terminal color for a severity level.
func severityColor(severity models.AlertSeverity) *color.Color {
	switch severity {
	case models.AlertCritical:
		return color.New(color.FgRed, color.Bold)
	case models.AlertError:
		return color.New(color.FgRed)
	case models.AlertWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

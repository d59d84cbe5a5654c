package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/detection"
	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// Options configures the Analyzer.
type Options struct {
	// OnlyFailures skips executions that succeeded.
	OnlyFailures bool
	// HistoryLimit caps how many prior tool executions go into the prompt.
	HistoryLimit int
	// Timeout bounds a single model call.
	Timeout time.Duration
	// MaxOutput truncates captured output and error text in the prompt.
	MaxOutput int
}

// DefaultOptions returns the default analyzer options.
func DefaultOptions() Options {
	return Options{
		OnlyFailures: true,
		HistoryLimit: 10,
		Timeout:      30 * time.Second,
		MaxOutput:    2000,
	}
}

// Analyzer implements detection.Analyzer on top of a Completer.
type Analyzer struct {
	completer Completer
	opts      Options
}

var _ detection.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer.
func NewAnalyzer(c Completer, opts Options) *Analyzer {
	d := DefaultOptions()
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = d.HistoryLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = d.MaxOutput
	}
	return &Analyzer{completer: c, opts: opts}
}

// Name implements detection.Analyzer.
func (a *Analyzer) Name() string { return "anthropic" }

// Analyze implements detection.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, in *detection.Input) ([]detection.Finding, error) {
	if in == nil || in.Execution == nil {
		return nil, nil
	}
	if a.opts.OnlyFailures && in.Execution.Succeeded() {
		metrics.AIRequestsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	reply, err := a.completer.Complete(ctx, a.buildPrompt(in))
	if err != nil {
		metrics.AIRequestsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	findings, err := parseFindings(reply)
	if err != nil {
		metrics.AIRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	metrics.AIRequestsTotal.WithLabelValues("success").Inc()
	return findings, nil
}

func (a *Analyzer) buildPrompt(in *detection.Input) string {
	exec := in.Execution
	var sb strings.Builder

	sb.WriteString("You review executions of developer tools and suggest concrete improvements.\n\n")
	sb.WriteString("## Execution\n")
	fmt.Fprintf(&sb, "tool: %s\nproject: %s\ncommand: %s\nstatus: %s\nduration_ms: %d\n",
		exec.Tool, exec.Project, exec.Command, exec.Status, exec.DurationMs)
	if exec.ErrorCategory != "" {
		fmt.Fprintf(&sb, "error_category: %s\n", exec.ErrorCategory)
	}
	if exec.ErrorMessage != "" {
		fmt.Fprintf(&sb, "error_message: %s\n", truncate(exec.ErrorMessage, a.opts.MaxOutput))
	}
	if out := exec.Output(); out != "" {
		fmt.Fprintf(&sb, "output:\n%s\n", truncate(out, a.opts.MaxOutput))
	}

	if len(in.ToolHistory) > 0 {
		sb.WriteString("\n## Recent executions of this tool (newest first)\n")
		for i, h := range in.ToolHistory {
			if i >= a.opts.HistoryLimit {
				break
			}
			fmt.Fprintf(&sb, "- %s %s %s %dms", h.Timestamp.UTC().Format(time.RFC3339), h.Project, h.Status, h.DurationMs)
			if h.ErrorCategory != "" {
				fmt.Fprintf(&sb, " (%s)", h.ErrorCategory)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
## Response format
Reply with a JSON array only. Each element:
{"key": "short-stable-slug", "type": "performance|reliability|usability|security|feature|documentation|integration",
 "severity": "low|medium|high|urgent", "scope": "tool|lifecycle|both", "title": "...",
 "description": "...", "suggested_action": "...", "confidence": 0.0-1.0}
Reply with [] when nothing is worth reporting.
`)
	return sb.String()
}

type wireFinding struct {
	Key             string  `json:"key"`
	Type            string  `json:"type"`
	Severity        string  `json:"severity"`
	Scope           string  `json:"scope"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	SuggestedAction string  `json:"suggested_action"`
	Confidence      float64 `json:"confidence"`
}

var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	slugRegex      = regexp.MustCompile(`[^a-z0-9]+`)
)

// parseFindings decodes a model reply. Code fences and prose around the
// JSON array are tolerated; elements with an unknown type are dropped.
func parseFindings(reply string) ([]detection.Finding, error) {
	text := strings.TrimSpace(reply)
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var wire []wireFinding
	if err := json.Unmarshal([]byte(text[start:end+1]), &wire); err != nil {
		return nil, fmt.Errorf("failed to decode findings: %w", err)
	}

	findings := make([]detection.Finding, 0, len(wire))
	for _, w := range wire {
		typ := models.ImprovementType(strings.ToLower(strings.TrimSpace(w.Type)))
		if !typ.IsValid() || w.Title == "" {
			continue
		}
		key := strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(w.Key), "-"), "-")
		if key == "" {
			key = strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(w.Title), "-"), "-")
		}
		findings = append(findings, detection.Finding{
			Key:             key,
			Type:            typ,
			Severity:        models.ParseSeverity(w.Severity),
			Scope:           parseScope(w.Scope),
			Title:           w.Title,
			Description:     w.Description,
			SuggestedAction: w.SuggestedAction,
			Confidence:      w.Confidence,
		})
	}
	return findings, nil
}

func parseScope(s string) models.Scope {
	switch models.Scope(strings.ToLower(strings.TrimSpace(s))) {
	case models.ScopeLifecycle:
		return models.ScopeLifecycle
	case models.ScopeBoth:
		return models.ScopeBoth
	default:
		return models.ScopeTool
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

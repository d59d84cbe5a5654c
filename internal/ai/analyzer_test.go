package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/toolwatch/internal/detection"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func failedExecution() *models.Execution {
	exec := models.NewExecution(models.ToolBuild, "api", "make release")
	exec.ID = "exec-1"
	exec.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec.Status = models.StatusFailure
	exec.ErrorCategory = models.ErrorDependency
	exec.ErrorMessage = "module not found: libfoo"
	exec.DurationMs = 4200
	return exec
}

func TestAnalyzerFindings(t *testing.T) {
	fc := &fakeCompleter{reply: "Here is what I found:\n```json\n" + `[
		{"key": "Pin Dependencies", "type": "Reliability", "severity": "high", "scope": "both",
		 "title": "Pin build dependencies", "description": "libfoo disappears", "suggested_action": "vendor it", "confidence": 0.8},
		{"key": "x", "type": "astrology", "title": "Unknown type"},
		{"key": "", "type": "documentation", "title": "Document Release Steps", "severity": "bogus", "scope": "nowhere"}
	]` + "\n```"}
	a := NewAnalyzer(fc, DefaultOptions())
	assert.Equal(t, "anthropic", a.Name())

	history := []*models.Execution{failedExecution()}
	findings, err := a.Analyze(context.Background(), &detection.Input{Execution: failedExecution(), ToolHistory: history})
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "pin-dependencies", findings[0].Key)
	assert.Equal(t, models.ImprovementReliability, findings[0].Type)
	assert.Equal(t, models.SeverityHigh, findings[0].Severity)
	assert.Equal(t, models.ScopeBoth, findings[0].Scope)
	assert.InDelta(t, 0.8, findings[0].Confidence, 1e-9)

	assert.Equal(t, "document-release-steps", findings[1].Key, "key falls back to the title")
	assert.Equal(t, models.SeverityMedium, findings[1].Severity)
	assert.Equal(t, models.ScopeTool, findings[1].Scope)

	require.Len(t, fc.prompts, 1)
	prompt := fc.prompts[0]
	assert.Contains(t, prompt, "command: make release")
	assert.Contains(t, prompt, "error_category: dependency")
	assert.Contains(t, prompt, "Recent executions of this tool")
}

func TestAnalyzerSkipsSuccess(t *testing.T) {
	fc := &fakeCompleter{reply: "[]"}
	a := NewAnalyzer(fc, Options{OnlyFailures: true})

	exec := failedExecution()
	exec.Status = models.StatusSuccess
	findings, err := a.Analyze(context.Background(), &detection.Input{Execution: exec})
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Empty(t, fc.prompts, "model is not called for successful executions")
}

func TestAnalyzerErrors(t *testing.T) {
	boom := errors.New("overloaded")
	a := NewAnalyzer(&fakeCompleter{err: boom}, DefaultOptions())
	_, err := a.Analyze(context.Background(), &detection.Input{Execution: failedExecution()})
	assert.ErrorIs(t, err, boom)

	a = NewAnalyzer(&fakeCompleter{reply: "I could not find anything."}, DefaultOptions())
	_, err = a.Analyze(context.Background(), &detection.Input{Execution: failedExecution()})
	assert.Error(t, err)

	a = NewAnalyzer(&fakeCompleter{reply: "[{"}, DefaultOptions())
	_, err = a.Analyze(context.Background(), &detection.Input{Execution: failedExecution()})
	assert.Error(t, err)
}

func TestAnalyzerTruncatesOutput(t *testing.T) {
	fc := &fakeCompleter{reply: "[]"}
	a := NewAnalyzer(fc, Options{MaxOutput: 10})

	exec := failedExecution()
	exec.SetMetadata(models.MetadataOutput, "0123456789abcdefghij")
	_, err := a.Analyze(context.Background(), &detection.Input{Execution: exec})
	require.NoError(t, err)
	assert.Contains(t, fc.prompts[0], "0123456789...")
	assert.NotContains(t, fc.prompts[0], "abcdefghij")
}

func TestNewAnthropicCompleterRequiresKey(t *testing.T) {
	_, err := NewAnthropicCompleter("", "", 0)
	assert.Error(t, err)

	c, err := NewAnthropicCompleter("sk-test", "", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.model)
	assert.EqualValues(t, 2048, c.maxTokens)
}

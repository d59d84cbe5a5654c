package notifier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

func TestRenderPlain(t *testing.T) {
	tmpl, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	alert := testAlert(models.AlertCritical)
	alert.RelatedExecutionIDs = []string{"exec-1", "exec-2"}
	data := AlertToTemplateData(alert)
	out, err := tmpl.RenderPlain(&data)
	if err != nil {
		t.Fatalf("RenderPlain: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "[CRITICAL] Consecutive failures" {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{
		alert.Message,
		"Rule: ALERT-REL-001  Category: reliability  Status: active",
		"Tool: test  Project: api",
		"Triggered: 2026-03-01 12:00:00 UTC",
		"Executions: exec-1, exec-2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAlertToTemplateDataSortsContext(t *testing.T) {
	alert := testAlert(models.AlertWarning)
	alert.Context = map[string]interface{}{"rate": "50.0%", "count": 3, "branch": "main"}

	data := AlertToTemplateData(alert)
	var keys []string
	for _, e := range data.Context {
		keys = append(keys, e.Key)
	}
	if got := strings.Join(keys, ","); got != "branch,count,rate" {
		t.Errorf("context keys = %s, want branch,count,rate", got)
	}
	if data.Context[1].Value != "3" {
		t.Errorf("count = %q, want 3", data.Context[1].Value)
	}
}

func TestConsoleNotifierSend(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewConsoleNotifier(&buf)
	if err != nil {
		t.Fatalf("NewConsoleNotifier: %v", err)
	}
	if n.Name() != "console" {
		t.Errorf("Name() = %q, want console", n.Name())
	}

	if err := n.Send(context.Background(), testAlert(models.AlertError)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[ERROR] Consecutive failures") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "     test failed 3 times in a row in api (threshold 3)") {
		t.Errorf("missing indented message:\n%s", out)
	}
}

func TestSeverityLabel(t *testing.T) {
	tests := []struct {
		severity models.AlertSeverity
		want     string
	}{
		{models.AlertCritical, "CRIT"},
		{models.AlertError, "ERR "},
		{models.AlertWarning, "WARN"},
		{models.AlertInfo, "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := severityLabel(tt.severity); got != tt.want {
			t.Errorf("severityLabel(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestFileNotifier(t *testing.T) {
	if _, err := NewFileNotifier(FileConfig{}); err == nil {
		t.Error("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "nested", "alerts.jsonl")
	n, err := NewFileNotifier(FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileNotifier: %v", err)
	}

	first := testAlert(models.AlertWarning)
	second := testAlert(models.AlertCritical)
	second.ID = "alert-2"
	for _, a := range []*models.Alert{first, second} {
		if err := n.Send(context.Background(), a); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Send(context.Background(), first); err == nil {
		t.Error("expected error after close")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var got models.Alert
		if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		ids = append(ids, got.ID)
	}
	if strings.Join(ids, ",") != "alert-1,alert-2" {
		t.Errorf("ids = %v, want [alert-1 alert-2]", ids)
	}
}

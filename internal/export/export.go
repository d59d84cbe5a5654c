// Package export writes improvements, alerts and metrics snapshots as
// JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// Format defines the output format for exports.
type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
)

// ParseFormat parses a string to Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "json":
		return JSON, true
	case "csv":
		return CSV, true
	default:
		return "", false
	}
}

// Exporter writes records in one format.
type Exporter struct {
	format Format
	writer io.Writer
}

// NewExporter creates an exporter for the given format.
func NewExporter(format Format, w io.Writer) *Exporter {
	return &Exporter{
		format: format,
		writer: w,
	}
}

// ExportImprovements writes improvements in the configured format.
func (e *Exporter) ExportImprovements(imps []*models.Improvement) error {
	if e.format != CSV {
		return e.writeJSON(imps)
	}

	w := csv.NewWriter(e.writer)
	w.Write([]string{
		"id", "detected_at", "type", "severity", "scope", "status", "title",
		"affected_tools", "affected_projects", "detection_method", "confidence",
		"execution_id", "detection_context",
	})
	for _, imp := range imps {
		tools := make([]string, len(imp.AffectedTools))
		for i, t := range imp.AffectedTools {
			tools[i] = string(t)
		}
		w.Write([]string{
			imp.ID,
			imp.DetectedAt.UTC().Format(time.RFC3339),
			string(imp.Type),
			string(imp.Severity),
			string(imp.Scope),
			string(imp.Status),
			imp.Title,
			strings.Join(tools, ";"),
			strings.Join(imp.AffectedProjects, ";"),
			string(imp.DetectionMethod),
			strconv.FormatFloat(imp.Confidence, 'f', 2, 64),
			imp.ExecutionID,
			imp.DetectionContext,
		})
	}
	w.Flush()
	return w.Error()
}

// ExportAlerts writes alerts in the configured format.
func (e *Exporter) ExportAlerts(alerts []*models.Alert) error {
	if e.format != CSV {
		return e.writeJSON(alerts)
	}

	w := csv.NewWriter(e.writer)
	w.Write([]string{
		"id", "triggered_at", "rule_id", "category", "severity", "status", "title",
		"tool", "project", "message", "related_executions", "notifications", "resolution",
	})
	for _, a := range alerts {
		w.Write([]string{
			a.ID,
			a.TriggeredAt.UTC().Format(time.RFC3339),
			a.TriggeredBy,
			string(a.Category),
			string(a.Severity),
			string(a.Status),
			a.Title,
			string(a.Tool),
			a.Project,
			a.Message,
			strings.Join(a.RelatedExecutionIDs, ";"),
			strconv.Itoa(len(a.Notifications)),
			a.Resolution,
		})
	}
	w.Flush()
	return w.Error()
}

// ExportSnapshot writes a metrics snapshot. The CSV form has one row for
// the whole period followed by one row per tool and per project.
func (e *Exporter) ExportSnapshot(s *models.MetricsSnapshot) error {
	if e.format != CSV {
		return e.writeJSON(s)
	}

	w := csv.NewWriter(e.writer)
	w.Write([]string{"# Period", s.PeriodStart.UTC().Format(time.RFC3339), s.PeriodEnd.UTC().Format(time.RFC3339)})
	w.Write([]string{"group", "name", "total", "successes", "failures", "timeouts", "cancelled", "success_rate", "avg_duration_ms"})
	w.Write(groupRow("all", "", &s.GroupMetrics))

	tools := make([]string, 0, len(s.ByTool))
	for t := range s.ByTool {
		tools = append(tools, string(t))
	}
	sort.Strings(tools)
	for _, t := range tools {
		w.Write(groupRow("tool", t, s.ByTool[models.Tool(t)]))
	}

	projects := make([]string, 0, len(s.ByProject))
	for p := range s.ByProject {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		w.Write(groupRow("project", p, s.ByProject[p]))
	}

	w.Flush()
	return w.Error()
}

func groupRow(group, name string, g *models.GroupMetrics) []string {
	return []string{
		group,
		name,
		strconv.Itoa(g.Total),
		strconv.Itoa(g.Successes),
		strconv.Itoa(g.Failures),
		strconv.Itoa(g.Timeouts),
		strconv.Itoa(g.Cancelled),
		strconv.FormatFloat(g.SuccessRate, 'f', 4, 64),
		strconv.FormatFloat(g.AverageDurationMs, 'f', 1, 64),
	}
}

func (e *Exporter) writeJSON(v interface{}) error {
	encoder := json.NewEncoder(e.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

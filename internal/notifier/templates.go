package notifier

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds the parsed alert templates.
type Templates struct {
	plain *template.Template
	issue *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	AlertID             string
	RuleID              string
	Title               string
	Message             string
	Category            string
	Severity            string
	Status              string
	Tool                string
	Project             string
	Timestamp           string
	Context             []ContextEntry
	RelatedExecutionIDs []string
}

// ContextEntry is one alert context value, rendered as text.
type ContextEntry struct {
	Key   string
	Value string
}

// LoadTemplates loads the embedded alert templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join":  strings.Join,
	}

	plainTmpl, err := template.New("alert.txt").Funcs(funcs).ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	issueTmpl, err := template.New("issue.md").Funcs(funcs).ParseFS(templateFS, "templates/issue.md")
	if err != nil {
		return nil, err
	}

	return &Templates{
		plain: plainTmpl,
		issue: issueTmpl,
	}, nil
}

// RenderPlain renders the plain text summary used by terminal output.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderIssue renders a markdown issue body.
func (t *Templates) RenderIssue(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.issue.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// AlertToTemplateData converts an alert to template data.
func AlertToTemplateData(alert *models.Alert) TemplateData {
	data := TemplateData{
		AlertID:             alert.ID,
		RuleID:              alert.TriggeredBy,
		Title:               alert.Title,
		Message:             alert.Message,
		Category:            string(alert.Category),
		Severity:            string(alert.Severity),
		Status:              string(alert.Status),
		Tool:                string(alert.Tool),
		Project:             alert.Project,
		Timestamp:           alert.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
		RelatedExecutionIDs: alert.RelatedExecutionIDs,
	}

	keys := make([]string, 0, len(alert.Context))
	for k := range alert.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Context = append(data.Context, ContextEntry{Key: k, Value: fmt.Sprint(alert.Context[k])})
	}
	return data
}

// severityLabel returns a short marker for a severity level.
func severityLabel(severity models.AlertSeverity) string {
	switch severity {
	case models.AlertCritical:
		return "CRIT"
	case models.AlertError:
		return "ERR "
	case models.AlertWarning:
		return "WARN"
	default:
		return "INFO"
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

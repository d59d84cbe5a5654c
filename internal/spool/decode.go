package spool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

var errBlankLine = errors.New("blank line")

// now is replaced in tests.
var now = time.Now

// wireExecution is the spool line format. Enumerations are plain strings
// so aliases such as "ok" or "failed" are accepted.
type wireExecution struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Tool          string                 `json:"tool"`
	Project       string                 `json:"project"`
	ProjectPath   string                 `json:"project_path"`
	Command       string                 `json:"command"`
	DurationMs    int64                  `json:"duration_ms"`
	Status        string                 `json:"status"`
	ErrorCategory string                 `json:"error_category"`
	ErrorMessage  string                 `json:"error_message"`
	ErrorStack    string                 `json:"error_stack"`
	Context       map[string]interface{} `json:"context"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Decode parses one spool line into a normalized, validated execution.
// A missing timestamp defaults to the current time.
func Decode(line []byte) (*models.Execution, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errBlankLine
	}

	var w wireExecution
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	status, err := models.ParseExecutionStatus(w.Status)
	if err != nil {
		return nil, err
	}

	exec := &models.Execution{
		ID:            w.ID,
		Timestamp:     w.Timestamp,
		Tool:          models.ParseTool(w.Tool),
		Project:       w.Project,
		ProjectPath:   w.ProjectPath,
		Command:       w.Command,
		DurationMs:    w.DurationMs,
		Status:        status,
		ErrorCategory: models.ParseErrorCategory(w.ErrorCategory),
		ErrorMessage:  w.ErrorMessage,
		ErrorStack:    w.ErrorStack,
		Context:       w.Context,
		Metadata:      w.Metadata,
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = now()
	}
	exec.Normalize()
	if err := exec.Validate(); err != nil {
		return nil, err
	}
	return exec, nil
}

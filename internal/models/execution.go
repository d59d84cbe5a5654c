// Package models contains the core data structures for toolwatch.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tool identifies a monitored external utility.
type Tool string

const (
	ToolLint    Tool = "lint"
	ToolTest    Tool = "test"
	ToolBuild   Tool = "build"
	ToolDeploy  Tool = "deploy"
	ToolCodegen Tool = "codegen"
	ToolReview  Tool = "review"
	ToolDocs    Tool = "docs"
	ToolGit     Tool = "git"
	ToolUnknown Tool = "unknown"
)

// KnownTools returns the monitored tools in a stable order.
func KnownTools() []Tool {
	return []Tool{ToolLint, ToolTest, ToolBuild, ToolDeploy, ToolCodegen, ToolReview, ToolDocs, ToolGit}
}

// ParseTool converts a string to Tool. Unrecognized names map to ToolUnknown.
func ParseTool(s string) Tool {
	t := Tool(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownTools() {
		if t == known {
			return t
		}
	}
	return ToolUnknown
}

// ExecutionStatus is the final outcome of a tool invocation.
type ExecutionStatus string

const (
	StatusSuccess   ExecutionStatus = "success"
	StatusFailure   ExecutionStatus = "failure"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ParseExecutionStatus converts a string to ExecutionStatus.
func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	switch strings.ToLower(s) {
	case "success", "ok", "passed":
		return StatusSuccess, nil
	case "failure", "failed", "error":
		return StatusFailure, nil
	case "timeout", "timed_out":
		return StatusTimeout, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown execution status %q", s)
	}
}

// ErrorCategory classifies why an execution failed.
type ErrorCategory string

const (
	ErrorUnknown           ErrorCategory = "unknown"
	ErrorTimeout           ErrorCategory = "timeout"
	ErrorNetwork           ErrorCategory = "network"
	ErrorAPIRateLimit      ErrorCategory = "api_rate_limit"
	ErrorAPIAuth           ErrorCategory = "api_auth"
	ErrorAPI               ErrorCategory = "api_error"
	ErrorPermissionDenied  ErrorCategory = "permission_denied"
	ErrorGit               ErrorCategory = "git_error"
	ErrorValidation        ErrorCategory = "validation"
	ErrorConfiguration     ErrorCategory = "configuration"
	ErrorDependency        ErrorCategory = "dependency"
	ErrorResourceExhausted ErrorCategory = "resource_exhausted"
	ErrorSyntax            ErrorCategory = "syntax"
)

var errorCategories = map[ErrorCategory]bool{
	ErrorUnknown: true, ErrorTimeout: true, ErrorNetwork: true, ErrorAPIRateLimit: true,
	ErrorAPIAuth: true, ErrorAPI: true, ErrorPermissionDenied: true, ErrorGit: true,
	ErrorValidation: true, ErrorConfiguration: true, ErrorDependency: true,
	ErrorResourceExhausted: true, ErrorSyntax: true,
}

// ParseErrorCategory converts a string to ErrorCategory. Empty input yields "".
func ParseErrorCategory(s string) ErrorCategory {
	if s == "" {
		return ""
	}
	c := ErrorCategory(strings.ToLower(s))
	if errorCategories[c] {
		return c
	}
	return ErrorUnknown
}

// Well-known keys in Execution.Context and Execution.Metadata.
const (
	ContextGitBranch  = "gitBranch"
	ContextTokensUsed = "tokensUsed"
	ContextAPICalls   = "apiCalls"

	MetadataOutput   = "output"
	MetadataCoverage = "coverage"
)

// Execution is one completed invocation of a monitored tool.
// Records are immutable once stored.
type Execution struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Tool          Tool            `json:"tool"`
	Project       string          `json:"project"`
	ProjectPath   string          `json:"project_path,omitempty"`
	Command       string          `json:"command"`
	DurationMs    int64           `json:"duration_ms"`
	Status        ExecutionStatus `json:"status"`
	ErrorCategory ErrorCategory   `json:"error_category,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ErrorStack    string          `json:"error_stack,omitempty"`

	// Context carries invocation details such as git branch, tokens used and API call count.
	Context map[string]interface{} `json:"context,omitempty"`

	// Metadata may embed captured metrics and raw tool output.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewExecution creates an Execution with initialized maps.
func NewExecution(tool Tool, project, command string) *Execution {
	return &Execution{
		Timestamp: time.Now(),
		Tool:      tool,
		Project:   project,
		Command:   command,
		Status:    StatusSuccess,
		Context:   make(map[string]interface{}),
		Metadata:  make(map[string]interface{}),
	}
}

// Normalize enforces the record invariants: duration is never negative and
// a failure always carries an error category.
func (e *Execution) Normalize() {
	if e.DurationMs < 0 {
		e.DurationMs = 0
	}
	if e.Status == StatusFailure && e.ErrorCategory == "" {
		e.ErrorCategory = ErrorUnknown
	}
	if e.Tool == "" {
		e.Tool = ToolUnknown
	}
}

// Validate checks required fields.
func (e *Execution) Validate() error {
	if e.Project == "" {
		return fmt.Errorf("project is required")
	}
	if e.Command == "" {
		return fmt.Errorf("command is required")
	}
	if e.DurationMs < 0 {
		return fmt.Errorf("duration must not be negative (got %d)", e.DurationMs)
	}
	switch e.Status {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusCancelled:
	default:
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

// Succeeded reports whether the execution completed successfully.
func (e *Execution) Succeeded() bool {
	return e.Status == StatusSuccess
}

// Failed reports whether the execution ended in failure.
func (e *Execution) Failed() bool {
	return e.Status == StatusFailure
}

// Duration returns the execution duration as a time.Duration.
func (e *Execution) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

// SetContext sets a context value.
func (e *Execution) SetContext(key string, value interface{}) {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
}

// SetMetadata sets a metadata value.
func (e *Execution) SetMetadata(key string, value interface{}) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
}

// ContextString retrieves a context value as string.
func (e *Execution) ContextString(key string) string {
	if s, ok := e.Context[key].(string); ok {
		return s
	}
	return ""
}

// ContextNumber retrieves a numeric context value.
func (e *Execution) ContextNumber(key string) (float64, bool) {
	val, ok := e.Context[key]
	if !ok {
		return 0, false
	}
	return ToFloat64(val)
}

// MetadataNumber retrieves a numeric metadata value.
func (e *Execution) MetadataNumber(key string) (float64, bool) {
	val, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	return ToFloat64(val)
}

// Output returns the captured tool output, if any.
func (e *Execution) Output() string {
	if s, ok := e.Metadata[MetadataOutput].(string); ok {
		return s
	}
	return ""
}

// JSON returns the execution as JSON bytes.
func (e *Execution) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// String returns a short representation of the execution.
func (e *Execution) String() string {
	return fmt.Sprintf("%s %s/%s %s [%s] %dms",
		e.Timestamp.Format(time.RFC3339), e.Tool, e.Project, e.Command, e.Status, e.DurationMs)
}

// ToFloat64 converts a loosely typed value to float64 if possible.
func ToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

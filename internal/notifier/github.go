package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubConfig holds GitHub issue tracker configuration.
type GitHubConfig struct {
	Repository string   `yaml:"repository"` // owner/name
	Token      string   `yaml:"token"`
	BaseURL    string   `yaml:"base_url"` // default: https://api.github.com
	Labels     []string `yaml:"labels"`
	// RequestsPerMinute throttles issue creation (default: 30).
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	owner, name, ok := strings.Cut(c.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("repository must be owner/name, got %q", c.Repository)
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return fmt.Errorf("base URL must use HTTPS")
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// GitHubNotifier opens an issue per alert.
type GitHubNotifier struct {
	config     GitHubConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	templates  *Templates
}

// NewGitHubNotifier creates a new GitHub issue notifier.
func NewGitHubNotifier(config GitHubConfig) (*GitHubNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid github config: %w", err)
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultGitHubAPI
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	tmpl, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &GitHubNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		templates: tmpl,
	}, nil
}

// Name returns "github".
func (g *GitHubNotifier) Name() string {
	return "github"
}

// Send creates an issue for the alert.
func (g *GitHubNotifier) Send(ctx context.Context, alert *models.Alert) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := g.buildPayload(alert)
	if err != nil {
		return err
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/issues", g.config.BaseURL, g.config.Repository)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.config.Token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for the GitHub notifier.
func (g *GitHubNotifier) Close() error {
	return nil
}

// githubIssue is the create-issue request body.
type githubIssue struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// buildPayload builds the issue for an alert.
func (g *GitHubNotifier) buildPayload(alert *models.Alert) (githubIssue, error) {
	data := AlertToTemplateData(alert)
	body, err := g.templates.RenderIssue(&data)
	if err != nil {
		return githubIssue{}, fmt.Errorf("failed to render issue: %w", err)
	}

	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	if alert.Project != "" {
		title += " (" + alert.Project + ")"
	}

	labels := append([]string{}, g.config.Labels...)
	labels = append(labels, "severity:"+string(alert.Severity), "category:"+string(alert.Category))

	return githubIssue{
		Title:  truncate(title, 256),
		Body:   truncate(body, 65000),
		Labels: labels,
	}, nil
}

package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGitHubConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  GitHubConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config",
			config:  GitHubConfig{},
			wantErr: true,
			errMsg:  "repository must be owner/name",
		},
		{
			name:    "repository without owner",
			config:  GitHubConfig{Repository: "/toolwatch", Token: "t"},
			wantErr: true,
			errMsg:  "repository must be owner/name",
		},
		{
			name:    "nested repository path",
			config:  GitHubConfig{Repository: "acme/tools/extra", Token: "t"},
			wantErr: true,
			errMsg:  "repository must be owner/name",
		},
		{
			name:    "missing token",
			config:  GitHubConfig{Repository: "acme/tools"},
			wantErr: true,
			errMsg:  "token is required",
		},
		{
			name:    "http base URL rejected",
			config:  GitHubConfig{Repository: "acme/tools", Token: "t", BaseURL: "http://github.example.com/api/v3"},
			wantErr: true,
			errMsg:  "base URL must use HTTPS",
		},
		{
			name:   "loopback http allowed",
			config: GitHubConfig{Repository: "acme/tools", Token: "t", BaseURL: "http://127.0.0.1:8080"},
		},
		{
			name:   "valid config",
			config: GitHubConfig{Repository: "acme/tools", Token: "ghp_xxx"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGitHubNotifierSend(t *testing.T) {
	var (
		received githubIssue
		path     string
		auth     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		path = r.URL.Path
		auth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("failed to unmarshal payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number": 42}`))
	}))
	defer server.Close()

	notifier, err := NewGitHubNotifier(GitHubConfig{
		Repository: "acme/tools",
		Token:      "ghp_test",
		BaseURL:    server.URL,
		Labels:     []string{"toolwatch"},
	})
	if err != nil {
		t.Fatalf("NewGitHubNotifier: %v", err)
	}
	if notifier.Name() != "github" {
		t.Errorf("Name() = %q, want github", notifier.Name())
	}

	alert := testAlert("critical")
	alert.Context = map[string]interface{}{"count": 3, "threshold": 3}
	alert.RelatedExecutionIDs = []string{"exec-1", "exec-2"}

	if err := notifier.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if path != "/repos/acme/tools/issues" {
		t.Errorf("path = %q, want /repos/acme/tools/issues", path)
	}
	if auth != "Bearer ghp_test" {
		t.Errorf("authorization = %q", auth)
	}
	if received.Title != "[CRITICAL] Consecutive failures (api)" {
		t.Errorf("title = %q", received.Title)
	}
	for _, want := range []string{"ALERT-REL-001", alert.Message, "| Tool | test |", "`count`: 3", "`exec-2`"} {
		if !strings.Contains(received.Body, want) {
			t.Errorf("body missing %q:\n%s", want, received.Body)
		}
	}
	wantLabels := []string{"toolwatch", "severity:critical", "category:reliability"}
	if strings.Join(received.Labels, ",") != strings.Join(wantLabels, ",") {
		t.Errorf("labels = %v, want %v", received.Labels, wantLabels)
	}
}

func TestGitHubNotifierHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "Bad credentials"}`))
	}))
	defer server.Close()

	notifier, err := NewGitHubNotifier(GitHubConfig{Repository: "acme/tools", Token: "bad", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewGitHubNotifier: %v", err)
	}

	err = notifier.Send(context.Background(), testAlert("error"))
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "status 401") || !strings.Contains(err.Error(), "Bad credentials") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestGitHubNotifierContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	notifier, err := NewGitHubNotifier(GitHubConfig{Repository: "acme/tools", Token: "t", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewGitHubNotifier: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := notifier.Send(ctx, testAlert("warning")); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long string", 10, "this is..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roelfdiedericks/golisten/internal/config"
)

func TestTemplates(t *testing.T) {
	names := []string{}
	for _, tmpl := range Templates() {
		names = append(names, tmpl.Name)
		if tmpl.System == "" || tmpl.Description == "" {
			t.Errorf("template %s incomplete", tmpl.Name)
		}
	}
	want := []string{"clean", "email", "notes", "slack"}
	if len(names) != len(want) {
		t.Fatalf("Templates = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Templates = %v, want %v", names, want)
			break
		}
	}

	if tmpl, err := GetTemplate(""); err != nil || tmpl.Name != DefaultTemplate {
		t.Errorf("GetTemplate(\"\") = %+v, %v", tmpl, err)
	}
	if _, err := GetTemplate("haiku"); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("err = %v, want ErrUnknownTemplate", err)
	}
}

func TestLoadAPIKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	_ = os.WriteFile(keyFile, []byte("  sk-from-file\nsecond line\n"), 0600)
	emptyFile := filepath.Join(dir, "empty")
	_ = os.WriteFile(emptyFile, []byte("\n"), 0600)

	tests := []struct {
		name    string
		cfg     config.CleanupConfig
		want    string
		wantErr error
	}{
		{"config wins", config.CleanupConfig{APIKey: "sk-config", KeyFile: keyFile}, "sk-config", nil},
		{"key file", config.CleanupConfig{KeyFile: keyFile}, "sk-from-file", nil},
		{"missing file", config.CleanupConfig{KeyFile: filepath.Join(dir, "nope")}, "", ErrNoAPIKey},
		{"empty file", config.CleanupConfig{KeyFile: emptyFile}, "", ErrNoAPIKey},
		{"nothing", config.CleanupConfig{}, "", ErrNoAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadAPIKey(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcess(t *testing.T) {
	var req struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	var gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "  Send the report today.  "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 6}
		}`)
	}))
	defer srv.Close()

	c, err := New(config.CleanupConfig{APIKey: "sk-test", Model: "claude-test", MaxTokens: 100},
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Process(context.Background(), "email", "um send the uh report today")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got != "Send the report today." {
		t.Errorf("result = %q", got)
	}
	if gotKey != "sk-test" || req.Model != "claude-test" || req.MaxTokens != 100 {
		t.Errorf("request key=%q model=%q max=%d", gotKey, req.Model, req.MaxTokens)
	}
	if len(req.System) != 1 || req.System[0].Text != templates["email"].System {
		t.Errorf("system prompt not the email template: %+v", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content[0].Text != "um send the uh report today" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestProcessAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	c, _ := New(config.CleanupConfig{APIKey: "bad"}, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if _, err := c.Process(context.Background(), "clean", "hello"); err == nil {
		t.Fatal("expected error")
	}
}

func TestProcessSkipsEmptyInput(t *testing.T) {
	c, _ := New(config.CleanupConfig{APIKey: "sk"}, option.WithBaseURL("http://127.0.0.1:1"), option.WithMaxRetries(0))
	if got, err := c.Process(context.Background(), "clean", "   "); err != nil || got != "" {
		t.Errorf("Process(blank) = %q, %v", got, err)
	}
	if _, err := c.Process(context.Background(), "nope", "text"); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("err = %v, want ErrUnknownTemplate", err)
	}
}

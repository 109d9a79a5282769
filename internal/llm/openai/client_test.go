package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateSendsPromptAndReturnsContent(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(payload.Messages) != 1 || payload.Messages[0].Content != "who is Old Zhang?" {
			t.Errorf("unexpected messages %+v", payload.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"  {\"is_exist\": false}  "}}]}`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "sk-test", Model: "test-model", Timeout: 5 * time.Second}, discardLogger())
	got, err := client.Generate(context.Background(), "who is Old Zhang?")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if got != `{"is_exist": false}` {
		t.Fatalf("unexpected content %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestGenerateStripsThinkBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"<think>musing</think>{\"is_exist\": true}"}}]}`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "sk-test"}, discardLogger())
	got, err := client.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if got != `{"is_exist": true}` {
		t.Fatalf("expected think block removed, got %q", got)
	}
}

func TestGenerateSurfacesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "sk-test"}, discardLogger())
	if _, err := client.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestGenerateRequiresKeyForRemoteEndpoints(t *testing.T) {
	client := New(Config{BaseURL: "https://api.openai.com/v1"}, discardLogger())
	if _, err := client.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected missing-key error")
	}
}

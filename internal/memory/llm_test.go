package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pinebranchco/wisp/internal/config"
)

func completionConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.BaseURL = baseURL
	return cfg
}

func TestCompletionClientRoundTrip(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"facts":[]}`}},
			},
		})
	}))
	defer srv.Close()

	client := NewCompletionClient(completionConfig(srv.URL))
	out, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"facts":[]}` {
		t.Errorf("unexpected content: %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotModel != config.DefaultModel {
		t.Errorf("model = %q, want %q", gotModel, config.DefaultModel)
	}
}

func TestCompletionClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewCompletionClient(completionConfig(srv.URL))
	_, err := client.Complete(context.Background(), "hello")
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("error = %v, want ErrCompletionUnavailable", err)
	}
}

func TestCompletionClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewCompletionClient(completionConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, "hello")
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("error = %v, want ErrCompletionUnavailable", err)
	}
}

func TestCompletionClientMissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	client := NewCompletionClient(cfg)

	_, err := client.Complete(context.Background(), "hello")
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("error = %v, want ErrCompletionUnavailable", err)
	}
}

func TestCompletionClientMemoryProviderOverride(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "agent-key"
	cfg.Provider.BaseURL = "http://unused.invalid"
	cfg.Memory.Provider = &config.ProviderConfig{APIKey: "mem-key", BaseURL: srv.URL}
	cfg.Memory.Model = "small-model"

	client := NewCompletionClient(cfg)
	if _, err := client.Complete(context.Background(), "hi"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotModel != "small-model" {
		t.Errorf("model = %q, want small-model", gotModel)
	}
}

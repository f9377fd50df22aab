package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, content string, cost float64) {
	t.Helper()
	payload := map[string]any{
		"model": "demo-model",
		"choices": []any{
			map[string]any{
				"finish_reason": "stop",
				"message":       map[string]any{"content": content},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"cost":              cost,
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		writeCompletion(t, w, "```json\n{\"ok\":true}\n```", 0)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	err := client.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected health check to fail")
	}
	if Temporary(err) {
		t.Fatalf("401 should not be temporary: %v", err)
	}
}

func TestCompleteJSONReportsUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Usage == nil || !req.Usage.Include {
			t.Errorf("expected usage accounting to be requested")
		}
		writeCompletion(t, w, `{"score":81}`, 0.0125)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	completion, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if completion.Content != `{"score":81}` {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if completion.Usage.Cost != 0.0125 || completion.Usage.PromptTokens != 10 {
		t.Fatalf("unexpected usage %+v", completion.Usage)
	}
}

func TestCompleteJSONToolCallArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "tool_calls",
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"type":     "function",
								"id":       "call_1",
								"function": map[string]any{"name": "emit", "arguments": `{"ok":true}`},
							},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	completion, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if completion.Content != `{"ok":true}` {
		t.Fatalf("unexpected content %q", completion.Content)
	}
}

func TestClientRetriesOnHTTP429AndSumsCost(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		writeCompletion(t, w, `{"ok":true}`, 0.5)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	completion, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
	if completion.Usage.Cost != 0.5 {
		t.Fatalf("unexpected cost %v", completion.Usage.Cost)
	}
}

func TestClientRetriesOnEmptyContentKeepsSpentCost(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(t, w, "", 0.1)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(3),
	)
	completion, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !Temporary(err) {
		t.Fatalf("expected temporary classification, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Fatalf("unexpected error %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if diff := completion.Usage.Cost - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected spent cost 0.3, got %v", completion.Usage.Cost)
	}
}

func TestCompleteJSONRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain", `{"value":3}`, false},
		{"fenced", "```json\n{\"value\":3}\n```", false},
		{"prose", "Here you go: {\"value\":3} thanks", false},
		{"empty", "   ", true},
		{"garbage", "no json here", true},
		{"braces in strings", "Result: {\"note\":\"use } sparingly\",\"value\":3} and {\"value\":4}", false},
		{"unbalanced", "prefix {\"value\":3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Value int `json:"value"`
			}
			err := DecodeJSON(tt.content, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Value != 3 {
				t.Fatalf("unexpected value %d", out.Value)
			}
		})
	}
}

func TestTemporaryClassification(t *testing.T) {
	if !Temporary(&httpStatusError{StatusCode: http.StatusBadGateway}) {
		t.Fatal("expected 502 to be temporary")
	}
	if Temporary(&httpStatusError{StatusCode: http.StatusBadRequest}) {
		t.Fatal("expected 400 to be permanent")
	}
	if Temporary(errors.New("boom")) {
		t.Fatal("expected plain error to be permanent")
	}
}

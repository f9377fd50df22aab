package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNotifyTestRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("CONVEYOR_NTFY_TOPIC", "")

	_, _, err := env.run(t, "notify", "test")
	if err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected disabled error, got %v", err)
	}
	requireContains(t, env.mustRun(t, "status"), "disabled")
}

func TestNotifyTestSendsToTopic(t *testing.T) {
	var title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env := setupCLITestEnv(t)
	t.Setenv("CONVEYOR_NTFY_TOPIC", server.URL)

	out := env.mustRun(t, "notify", "test")
	requireContains(t, out, "Test notification sent to "+server.URL)
	if title != "Conveyor - Test" {
		t.Fatalf("unexpected title %q", title)
	}
}

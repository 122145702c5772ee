package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseDispatch(t *testing.T) {
	body := `{
		"run_id": "9b8e7c1a-0000-4000-8000-000000000001",
		"node_id": "enrich",
		"input": {"email": "ada@example.com"},
		"config": {"depth": 2},
		"callback_url": "http://engine.local/callback/9b8e7c1a-0000-4000-8000-000000000001/enrich?sig=abc"
	}`

	d, err := ParseDispatch(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseDispatch failed: %v", err)
	}
	if d.NodeID != "enrich" {
		t.Errorf("NodeID = %s, want enrich", d.NodeID)
	}
	if d.Input["email"] != "ada@example.com" {
		t.Errorf("Input not decoded: %v", d.Input)
	}
	if !strings.Contains(d.CallbackURL, "sig=abc") {
		t.Errorf("CallbackURL lost its signature: %s", d.CallbackURL)
	}
}

func TestParseDispatchRejectsIncomplete(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", `{"run_id": `},
		{"missing_run_id", `{"node_id": "a", "callback_url": "http://x"}`},
		{"missing_node_id", `{"run_id": "r", "callback_url": "http://x"}`},
		{"missing_callback_url", `{"run_id": "r", "node_id": "a"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDispatch(strings.NewReader(tc.body)); err == nil {
				t.Errorf("Expected error for %s", tc.name)
			}
		})
	}
}

func TestCompletePostsResult(t *testing.T) {
	var got Result
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode result: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := NewClient(nil)
	err := client.Complete(context.Background(), srv.URL, map[string]any{"score": 0.92})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.Output["score"] != 0.92 {
		t.Errorf("Output = %v", got.Output)
	}
}

func TestFailPostsErrorAndRequiresMessage(t *testing.T) {
	var got Result
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(nil)
	if err := client.Fail(context.Background(), srv.URL, ""); err == nil {
		t.Errorf("Expected empty error message to be rejected")
	}
	if err := client.Fail(context.Background(), srv.URL, "upstream timeout"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "upstream timeout" {
		t.Errorf("Result = %+v", got)
	}
}

func TestCallbackRejectionSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"node already completed"}`, http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(nil)
	err := client.Complete(context.Background(), srv.URL, map[string]any{"score": 1})
	if err == nil {
		t.Fatalf("Expected rejection error")
	}
	if !strings.Contains(err.Error(), "409") {
		t.Errorf("Error should carry the status code: %v", err)
	}
}

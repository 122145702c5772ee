package webhooks_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stitchhq/canvas-engine/common/signature"
)

// Configuration from environment
var (
	engineURL     = getEnv("CANVAS_ENGINE_URL", "http://localhost:8080")
	webhookSecret = getEnv("PERF_WEBHOOK_SECRET", "perf-unsafe-default-secret")
)

func postJSON(url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return http.Post(url, "application/json", bytes.NewReader(body))
}

// setupIngress registers a flow, a version with an entry edge, and a custom
// webhook endpoint pointed at it. Returns the endpoint slug.
func setupIngress(tb testing.TB) string {
	tb.Helper()

	resp, err := postJSON(engineURL+"/flows", map[string]any{
		"name": fmt.Sprintf("perf-ingress-%d", time.Now().Unix()),
	})
	if err != nil {
		tb.Fatalf("Failed to create flow: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		tb.Fatalf("Unexpected status creating flow: %d (%s)", resp.StatusCode, body)
	}

	var flow struct {
		FlowID string `json:"flowId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&flow); err != nil {
		tb.Fatalf("Failed to decode flow response: %v", err)
	}

	node := func(id string, x float64) map[string]any {
		return map[string]any{
			"id":       id,
			"type":     "Worker",
			"position": map[string]any{"x": x, "y": 0},
			"data":     map[string]any{"worker": map[string]any{"mode": "sync"}},
		}
	}
	resp, err = postJSON(engineURL+"/flows/"+flow.FlowID+"/versions", map[string]any{
		"visualGraph": map[string]any{
			"nodes": []any{node("welcome", 0), node("qualify", 200)},
			"edges": []any{map[string]any{
				"id": "e1", "source": "welcome", "target": "qualify", "type": "journey",
			}},
		},
		"commitMessage": "perf ingress baseline",
	})
	if err != nil {
		tb.Fatalf("Failed to create version: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		tb.Fatalf("Unexpected status creating version: %d (%s)", resp.StatusCode, body)
	}

	slug := fmt.Sprintf("perf-%d", time.Now().UnixNano())
	resp, err = postJSON(engineURL+"/webhook-configs", map[string]any{
		"canvas_id":     flow.FlowID,
		"name":          "perf ingress",
		"source":        "custom",
		"endpoint_slug": slug,
		"secret":        webhookSecret,
		"workflow_id":   flow.FlowID,
		"entry_edge_id": "e1",
		"entity_mapping": map[string]any{
			"email": "email",
			"name":  "name",
		},
	})
	if err != nil {
		tb.Fatalf("Failed to create webhook config: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		tb.Fatalf("Unexpected status creating webhook config: %d (%s)", resp.StatusCode, body)
	}

	return slug
}

// BenchmarkWebhookIngest measures the full ingress pipeline: signature
// verification, entity upsert, audit row and run start.
//
// The ingress group is rate limited; raise WEBHOOK_RATE_LIMIT on the target
// engine before benchmarking, or the loop will fail on 429s.
//
// Usage:
//
//	WEBHOOK_RATE_LIMIT=1000000 <start engine>
//	CANVAS_ENGINE_URL=http://localhost:8080 go test -bench=BenchmarkWebhookIngest -benchtime=1000x
func BenchmarkWebhookIngest(b *testing.B) {
	// Skip if the engine is not running
	resp, err := http.Get(engineURL + "/health")
	if err != nil {
		b.Skip("Canvas engine not running")
	}
	resp.Body.Close()

	slug := setupIngress(b)
	url := engineURL + "/webhooks/" + slug
	client := &http.Client{}

	b.Logf("Benchmarking webhook ingest: %d iterations", b.N)
	b.Logf("  Endpoint: %s", url)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// Unique email per event so every iteration pays the full
		// upsert cost instead of hitting the same row.
		body, err := json.Marshal(map[string]any{
			"event": "perf.signup",
			"email": fmt.Sprintf("perf-%d-%d@example.com", time.Now().Unix(), i),
			"name":  "Perf Tester",
		})
		if err != nil {
			b.Fatalf("Failed to marshal payload: %v", err)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			b.Fatalf("Failed to build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature.HexHMAC(webhookSecret, body))

		resp, err := client.Do(req)
		if err != nil {
			b.Fatalf("Request failed: %v", err)
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			b.Fatalf("Rate limited after %d requests; raise WEBHOOK_RATE_LIMIT on the engine", i)
		}
		if resp.StatusCode != http.StatusOK {
			b.Fatalf("Unexpected status: %d (%s)", resp.StatusCode, respBody)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

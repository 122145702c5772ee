// Package sdk is the Go contract for external async workers. The engine
// POSTs a Dispatch to the worker's URL; the worker acknowledges with 2xx,
// does its work, and reports the result to the dispatch's callback URL.
//
// Workers in other languages implement the same two JSON shapes; this
// package exists so Go workers don't re-declare them.
package sdk

import (
	"encoding/json"
	"fmt"
	"io"
)

// Callback statuses accepted by the engine.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Dispatch is the payload the engine POSTs to a worker. CallbackURL is
// pre-signed; workers treat it as opaque and must not alter it.
type Dispatch struct {
	RunID       string         `json:"run_id"`
	NodeID      string         `json:"node_id"`
	Input       map[string]any `json:"input,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	CallbackURL string         `json:"callback_url"`
}

// Result is the payload a worker reports to the callback URL. Error is
// required when Status is failed.
type Result struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ParseDispatch decodes and validates a dispatch body.
func ParseDispatch(r io.Reader) (*Dispatch, error) {
	var d Dispatch
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("invalid dispatch payload: %w", err)
	}
	if d.RunID == "" {
		return nil, fmt.Errorf("dispatch missing run_id")
	}
	if d.NodeID == "" {
		return nil, fmt.Errorf("dispatch missing node_id")
	}
	if d.CallbackURL == "" {
		return nil, fmt.Errorf("dispatch missing callback_url")
	}
	return &d, nil
}

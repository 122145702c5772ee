package service

import (
	"testing"
	"time"

	"github.com/stitchhq/canvas-engine/common/models"
)

func TestResolveIntent(t *testing.T) {
	approval := &models.UXConfig{
		Intents: map[string][]string{
			"approve": {"yes", "approved", "go ahead"},
			"reject":  {"no", "denied"},
		},
	}

	tests := []struct {
		name string
		cfg  *models.UXConfig
		body string
		want string
	}{
		{
			name: "keyword_match",
			cfg:  approval,
			body: "Denied, the numbers do not add up.",
			want: "reject",
		},
		{
			name: "match_is_case_insensitive",
			cfg:  approval,
			body: "APPROVED!",
			want: "approve",
		},
		{
			name: "keyword_matches_inside_sentence",
			cfg:  approval,
			body: "sounds good, go ahead with the rollout",
			want: "approve",
		},
		{
			// Both intents match; the first in name order wins.
			name: "name_order_breaks_multi_match",
			cfg:  approval,
			body: "yes... but also no",
			want: "approve",
		},
		{
			name: "declared_default_when_nothing_matches",
			cfg: &models.UXConfig{
				Intents:       map[string][]string{"approve": {"lgtm"}},
				DefaultIntent: "escalate",
			},
			body: "please loop in finance",
			want: "escalate",
		},
		{
			name: "fallback_when_no_default_declared",
			cfg:  &models.UXConfig{Intents: map[string][]string{"approve": {"lgtm"}}},
			body: "unrelated reply",
			want: "yes",
		},
		{
			name: "nil_config_falls_back",
			cfg:  nil,
			body: "anything",
			want: "yes",
		},
		{
			name: "empty_keyword_never_matches",
			cfg:  &models.UXConfig{Intents: map[string][]string{"reject": {""}}, DefaultIntent: "approve"},
			body: "whatever",
			want: "approve",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveIntent(tt.cfg, tt.body); got != tt.want {
				t.Errorf("resolveIntent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWaitingNode(t *testing.T) {
	at := func(sec int) *time.Time {
		ts := time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
		return &ts
	}

	tests := []struct {
		name   string
		states map[string]*models.NodeState
		want   string
		found  bool
	}{
		{
			name:   "no_waiting_nodes",
			states: map[string]*models.NodeState{"a": {Status: models.NodeCompleted}},
			found:  false,
		},
		{
			name: "single_wait",
			states: map[string]*models.NodeState{
				"a":       {Status: models.NodeCompleted},
				"confirm": {Status: models.NodeWaitingForUser, StartedAt: at(5)},
			},
			want:  "confirm",
			found: true,
		},
		{
			name: "oldest_wait_wins",
			states: map[string]*models.NodeState{
				"late":  {Status: models.NodeWaitingForUser, StartedAt: at(9)},
				"early": {Status: models.NodeWaitingForUser, StartedAt: at(1)},
			},
			want:  "early",
			found: true,
		},
		{
			name: "tie_breaks_on_node_id",
			states: map[string]*models.NodeState{
				"b_confirm": {Status: models.NodeWaitingForUser, StartedAt: at(3)},
				"a_confirm": {Status: models.NodeWaitingForUser, StartedAt: at(3)},
			},
			want:  "a_confirm",
			found: true,
		},
		{
			name: "missing_timestamp_counts_as_oldest",
			states: map[string]*models.NodeState{
				"stamped":   {Status: models.NodeWaitingForUser, StartedAt: at(1)},
				"unstamped": {Status: models.NodeWaitingForUser},
			},
			want:  "unstamped",
			found: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &models.Run{NodeStates: tt.states}
			got, ok := waitingNode(run)
			if ok != tt.found {
				t.Fatalf("waitingNode() found = %v, want %v", ok, tt.found)
			}
			if got != tt.want {
				t.Errorf("waitingNode() = %q, want %q", got, tt.want)
			}
		})
	}
}

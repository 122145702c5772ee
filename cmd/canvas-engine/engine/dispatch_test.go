package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/signature"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/security"
)

func devDispatcher(t *testing.T, opts DispatcherOpts) *Dispatcher {
	t.Helper()
	if opts.Policy == nil {
		policy := security.NewEgressPolicy()
		policy.AllowPrivate = true // httptest servers bind loopback
		opts.Policy = policy
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("error", "json")
	}
	return NewDispatcher(&opts)
}

func TestCallbackURL_Unsigned(t *testing.T) {
	d := devDispatcher(t, DispatcherOpts{PublicBaseURL: "https://engine.example.com"})
	runID := uuid.New()

	got := d.CallbackURL(runID, "send-email")
	want := "https://engine.example.com/callback/" + runID.String() + "/send-email"
	if got != want {
		t.Errorf("CallbackURL: got %q, want %q", got, want)
	}
}

func TestCallbackURL_Signed(t *testing.T) {
	d := devDispatcher(t, DispatcherOpts{
		PublicBaseURL:  "https://engine.example.com",
		CallbackSecret: "cb-secret",
	})
	runID := uuid.New()

	raw := d.CallbackURL(runID, "send-email")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("CallbackURL is not a valid URL: %v", err)
	}
	sig := u.Query().Get("sig")
	if sig == "" {
		t.Fatal("signed CallbackURL is missing the sig parameter")
	}
	if !signature.VerifyHex("cb-secret", []byte(runID.String()+".send-email"), sig) {
		t.Error("sig parameter does not verify against runID.nodeID")
	}
	if !strings.HasPrefix(raw, "https://engine.example.com/callback/") {
		t.Errorf("unexpected URL shape: %q", raw)
	}
}

func TestDispatch_Acknowledged(t *testing.T) {
	var got DispatchRequest
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode dispatch body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := devDispatcher(t, DispatcherOpts{PublicBaseURL: "http://engine.test"})
	req := &DispatchRequest{
		RunID:       uuid.New().String(),
		NodeID:      "enrich",
		Input:       map[string]any{"email": "ada@example.com"},
		CallbackURL: "http://engine.test/callback/x/enrich",
	}
	if err := d.Dispatch(context.Background(), srv.URL, req); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type: got %q", contentType)
	}
	if got.NodeID != "enrich" || got.RunID != req.RunID {
		t.Errorf("worker received %+v", got)
	}
	if got.Input["email"] != "ada@example.com" {
		t.Errorf("worker received input %v", got.Input)
	}
	if got.CallbackURL != req.CallbackURL {
		t.Errorf("worker received callback URL %q", got.CallbackURL)
	}
}

func TestDispatch_Non2xxIsWorkerFailure(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := devDispatcher(t, DispatcherOpts{})
	err := d.Dispatch(context.Background(), srv.URL, &DispatchRequest{NodeID: "n"})
	if !errs.Is(err, errs.KindWorkerFailure) {
		t.Fatalf("expected worker_failure, got %v", err)
	}
	// A status response settles the dispatch; only connection errors retry.
	if hits != 1 {
		t.Errorf("expected 1 attempt, got %d", hits)
	}
}

func TestDispatch_RetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := srv.URL
	srv.Close()

	start := time.Now()
	d := devDispatcher(t, DispatcherOpts{Retries: 2})
	err := d.Dispatch(context.Background(), dead, &DispatchRequest{NodeID: "n"})
	if !errs.Is(err, errs.KindWorkerFailure) {
		t.Fatalf("expected worker_failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Errorf("expected exhausted-attempts error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < dispatchBackoff {
		t.Errorf("expected a backoff between attempts, finished in %v", elapsed)
	}
}

func TestDispatch_RejectsBlockedURL(t *testing.T) {
	d := NewDispatcher(&DispatcherOpts{Logger: logger.New("error", "json")})

	for _, target := range []string{
		"http://localhost:9000/hook",
		"http://169.254.169.254/latest/meta-data",
		"ftp://worker.example.com/job",
	} {
		err := d.Dispatch(context.Background(), target, &DispatchRequest{NodeID: "n"})
		if !errs.Is(err, errs.KindWorkerFailure) {
			t.Errorf("Dispatch(%q): expected worker_failure, got %v", target, err)
		}
		if err == nil || !strings.Contains(err.Error(), "rejected") {
			t.Errorf("Dispatch(%q): expected egress rejection, got %v", target, err)
		}
	}
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
	"github.com/stitchhq/canvas-engine/common/signature"
	"github.com/stitchhq/canvas-engine/cmd/canvas-engine/security"
)

// DispatchRequest is the payload POSTed to an async worker. The worker
// acknowledges with 2xx and reports its result later to CallbackURL.
type DispatchRequest struct {
	RunID       string         `json:"run_id"`
	NodeID      string         `json:"node_id"`
	Input       map[string]any `json:"input,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	CallbackURL string         `json:"callback_url"`
}

// WorkerDispatcher hands work to async workers.
type WorkerDispatcher interface {
	Dispatch(ctx context.Context, workerURL string, req *DispatchRequest) error
	CallbackURL(runID uuid.UUID, nodeID string) string
}

// Dispatcher is the HTTP WorkerDispatcher: egress-checked POSTs with
// bounded retries on connection errors, and HMAC-signed callback URLs
// when a callback secret is configured.
type Dispatcher struct {
	client  *http.Client
	policy  *security.EgressPolicy
	log     *logger.Logger
	baseURL string
	secret  string
	retries int
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	// PublicBaseURL is the externally reachable base of this engine,
	// prefixed onto generated callback URLs.
	PublicBaseURL string

	// CallbackSecret signs callback URLs; empty disables signing.
	CallbackSecret string

	// Timeout bounds each dispatch attempt. Defaults to 30s.
	Timeout time.Duration

	// Retries is the total number of attempts for connection errors.
	// Defaults to 3. Workers answering with a status code are never
	// retried; a non-2xx acknowledgment is a worker failure.
	Retries int

	Policy *security.EgressPolicy
	Logger *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts *DispatcherOpts) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = 3
	}
	policy := opts.Policy
	if policy == nil {
		policy = security.NewEgressPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("info", "json")
	}
	return &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		log:     log.WithComponent("dispatcher"),
		baseURL: opts.PublicBaseURL,
		secret:  opts.CallbackSecret,
		retries: retries,
	}
}

// CallbackURL builds the callback endpoint for a node, signed with the
// callback secret when one is configured. The signature covers
// "{runID}.{nodeID}" so a leaked URL cannot be replayed against another
// node.
func (d *Dispatcher) CallbackURL(runID uuid.UUID, nodeID string) string {
	cb := fmt.Sprintf("%s/callback/%s/%s", d.baseURL, runID, url.PathEscape(nodeID))
	if d.secret == "" {
		return cb
	}
	sig := signature.HexHMAC(d.secret, []byte(runID.String()+"."+nodeID))
	return cb + "?sig=" + sig
}

const dispatchBackoff = 500 * time.Millisecond

// Dispatch POSTs the request to the worker URL. Connection errors are
// retried with a short pause; any HTTP response settles the attempt, and
// only a 2xx counts as an acknowledgment.
func (d *Dispatcher) Dispatch(ctx context.Context, workerURL string, req *DispatchRequest) error {
	if err := d.policy.ValidateURL(workerURL); err != nil {
		return errs.Wrap(errs.KindWorkerFailure, "worker url rejected", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.KindWorkerFailure, "failed to encode dispatch payload", err)
	}
	log := d.log.WithRunID(req.RunID).WithNodeID(req.NodeID)

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return errs.Wrap(errs.KindWorkerFailure, "dispatch cancelled", ctx.Err())
			case <-time.After(dispatchBackoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL, bytes.NewReader(body))
		if err != nil {
			return errs.Wrap(errs.KindWorkerFailure, "failed to build dispatch request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(httpReq)
		if err != nil {
			lastErr = err
			log.Warn("worker dispatch attempt failed", "url", workerURL, "attempt", attempt, "error", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return errs.Newf(errs.KindWorkerFailure, "worker returned status %d", resp.StatusCode)
	}
	return errs.Wrap(errs.KindWorkerFailure, fmt.Sprintf("worker unreachable after %d attempts", d.retries), lastErr)
}

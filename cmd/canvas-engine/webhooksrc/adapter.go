// Package webhooksrc verifies and interprets inbound webhook payloads for
// the supported sources. Each source pairs a signature scheme with
// extraction rules for the entity behind the event; anything the adapter
// cannot provide is filled from the config's generic JSON-path mapping.
package webhooksrc

import (
	"net/http"
	"time"

	"github.com/stitchhq/canvas-engine/common/models"
)

// Extracted holds the identity fields pulled from a webhook payload.
type Extracted struct {
	Email      string
	Name       string
	EntityType string
	Metadata   map[string]any
}

// Adapter verifies and interprets payloads for one webhook source.
type Adapter interface {
	Source() models.WebhookSource

	// VerifySignature checks request headers against the configured secret.
	// Callers skip the call entirely when no secret is configured.
	VerifySignature(header http.Header, body []byte, secret string) error

	// ExtractEntity pulls identity fields from the raw payload. Fields the
	// adapter cannot provide stay zero; ApplyMapping fills the gaps.
	ExtractEntity(body []byte) Extracted
}

// Registry holds one adapter per source. Unknown sources resolve to the
// custom adapter, which relies entirely on the generic mapping.
type Registry struct {
	adapters map[models.WebhookSource]Adapter
	fallback Adapter
}

// RegistryOpts configures the source adapters.
type RegistryOpts struct {
	// SignatureTolerance caps clock drift for the timestamped schemes
	// (Stripe, Calendly). Zero means the 5 minute default.
	SignatureTolerance time.Duration
}

// NewRegistry builds the registry with every supported adapter installed.
func NewRegistry(opts *RegistryOpts) *Registry {
	if opts == nil {
		opts = &RegistryOpts{}
	}

	custom := NewCustomAdapter()
	r := &Registry{
		adapters: make(map[models.WebhookSource]Adapter),
		fallback: custom,
	}
	for _, a := range []Adapter{
		NewStripeAdapter(opts.SignatureTolerance),
		NewTypeformAdapter(),
		NewCalendlyAdapter(opts.SignatureTolerance),
		NewN8NAdapter(),
		custom,
	} {
		r.adapters[a.Source()] = a
	}
	return r
}

// For returns the adapter for a source.
func (r *Registry) For(source models.WebhookSource) Adapter {
	if a, ok := r.adapters[source]; ok {
		return a
	}
	return r.fallback
}

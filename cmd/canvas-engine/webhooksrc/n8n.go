package webhooksrc

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
	"github.com/stitchhq/canvas-engine/common/signature"
)

const n8nTokenHeader = "X-N8N-Signature"

// N8NAdapter compares a bare shared token constant-time; there is no HMAC
// in this scheme. Extraction is left entirely to the generic mapping.
type N8NAdapter struct{}

func NewN8NAdapter() *N8NAdapter {
	return &N8NAdapter{}
}

func (a *N8NAdapter) Source() models.WebhookSource {
	return models.SourceN8N
}

func (a *N8NAdapter) VerifySignature(header http.Header, body []byte, secret string) error {
	token := header.Get(n8nTokenHeader)
	if token == "" {
		return errs.Newf(errs.KindAuth, "missing %s header", n8nTokenHeader)
	}
	if !signature.EqualConstantTime(token, secret) {
		return errs.New(errs.KindAuth, "token mismatch")
	}
	return nil
}

func (a *N8NAdapter) ExtractEntity(body []byte) Extracted {
	eventType := gjson.GetBytes(body, "event").String()
	if eventType == "" {
		eventType = "n8n_event"
	}
	return Extracted{Metadata: map[string]any{"event_type": eventType}}
}

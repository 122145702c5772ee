package webhooksrc

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
	"github.com/stitchhq/canvas-engine/common/signature"
)

const customSignatureHeader = "X-Webhook-Signature"

// CustomAdapter is the generic fallback: a hex HMAC-SHA256 of the raw body
// in a single header, extraction entirely via the configured mapping.
type CustomAdapter struct{}

func NewCustomAdapter() *CustomAdapter {
	return &CustomAdapter{}
}

func (a *CustomAdapter) Source() models.WebhookSource {
	return models.SourceCustom
}

func (a *CustomAdapter) VerifySignature(header http.Header, body []byte, secret string) error {
	value := header.Get(customSignatureHeader)
	if value == "" {
		return errs.Newf(errs.KindAuth, "missing %s header", customSignatureHeader)
	}
	if !signature.VerifyHex(secret, body, value) {
		return errs.New(errs.KindAuth, "signature mismatch")
	}
	return nil
}

func (a *CustomAdapter) ExtractEntity(body []byte) Extracted {
	eventType := gjson.GetBytes(body, "event").String()
	if eventType == "" {
		eventType = gjson.GetBytes(body, "type").String()
	}
	if eventType == "" {
		eventType = "webhook_event"
	}
	return Extracted{Metadata: map[string]any{"event_type": eventType}}
}

package webhooksrc

import (
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

const calendlySignatureHeader = "Calendly-Webhook-Signature"

// CalendlyAdapter verifies the same timestamped scheme as Stripe under the
// Calendly header and reads invitee identity from the event payload.
type CalendlyAdapter struct {
	tolerance time.Duration
	now       func() time.Time
}

func NewCalendlyAdapter(tolerance time.Duration) *CalendlyAdapter {
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}
	return &CalendlyAdapter{tolerance: tolerance, now: time.Now}
}

func (a *CalendlyAdapter) Source() models.WebhookSource {
	return models.SourceCalendly
}

func (a *CalendlyAdapter) VerifySignature(header http.Header, body []byte, secret string) error {
	value := header.Get(calendlySignatureHeader)
	if value == "" {
		return errs.Newf(errs.KindAuth, "missing %s header", calendlySignatureHeader)
	}
	return verifyTimestamped(value, body, secret, a.tolerance, a.now())
}

// ExtractEntity reads payload.invitee, falling back to the payload object
// itself for invitee-shaped payloads.
func (a *CalendlyAdapter) ExtractEntity(body []byte) Extracted {
	invitee := gjson.GetBytes(body, "payload.invitee")
	if !invitee.Exists() {
		invitee = gjson.GetBytes(body, "payload")
	}

	ex := Extracted{
		Email:      invitee.Get("email").String(),
		Name:       invitee.Get("name").String(),
		EntityType: "lead",
		Metadata:   map[string]any{},
	}

	if v := gjson.GetBytes(body, "event"); v.Exists() {
		ex.Metadata["event_type"] = v.Value()
	}
	if v := gjson.GetBytes(body, "payload.scheduled_event.start_time"); v.Exists() {
		ex.Metadata["scheduled_at"] = v.Value()
	}
	return ex
}

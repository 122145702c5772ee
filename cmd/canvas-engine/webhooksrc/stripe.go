package webhooksrc

import (
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeAdapter verifies "t=<ts>,v1=<hex>" signatures over "{t}.{body}"
// and reads checkout/payment fields from the event object.
type StripeAdapter struct {
	tolerance time.Duration
	now       func() time.Time
}

func NewStripeAdapter(tolerance time.Duration) *StripeAdapter {
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}
	return &StripeAdapter{tolerance: tolerance, now: time.Now}
}

func (a *StripeAdapter) Source() models.WebhookSource {
	return models.SourceStripe
}

func (a *StripeAdapter) VerifySignature(header http.Header, body []byte, secret string) error {
	value := header.Get(stripeSignatureHeader)
	if value == "" {
		return errs.Newf(errs.KindAuth, "missing %s header", stripeSignatureHeader)
	}
	return verifyTimestamped(value, body, secret, a.tolerance, a.now())
}

// ExtractEntity reads customer identity from the event's data.object,
// falling back to the payload root for flattened test payloads.
func (a *StripeAdapter) ExtractEntity(body []byte) Extracted {
	object := gjson.GetBytes(body, "data.object")
	if !object.Exists() {
		object = gjson.ParseBytes(body)
	}

	ex := Extracted{
		Email:      object.Get("customer_details.email").String(),
		Name:       object.Get("customer_details.name").String(),
		EntityType: "customer",
		Metadata:   map[string]any{},
	}

	if v := object.Get("customer"); v.Exists() {
		ex.Metadata["customer_id"] = v.Value()
	}
	if v := object.Get("payment_status"); v.Exists() {
		ex.Metadata["payment_status"] = v.Value()
	}
	if v := object.Get("amount_total"); v.Exists() {
		ex.Metadata["amount"] = v.Value()
	} else if v := object.Get("amount"); v.Exists() {
		ex.Metadata["amount"] = v.Value()
	}
	if v := object.Get("currency"); v.Exists() {
		ex.Metadata["currency"] = v.Value()
	}
	if v := gjson.GetBytes(body, "type"); v.Exists() {
		ex.Metadata["event_type"] = v.Value()
	}
	return ex
}

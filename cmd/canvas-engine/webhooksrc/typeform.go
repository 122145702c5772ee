package webhooksrc

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
	"github.com/stitchhq/canvas-engine/common/signature"
)

const typeformSignatureHeader = "Typeform-Signature"

// TypeformAdapter verifies "sha256=<base64>" signatures over the raw body
// and scans form answers for identity fields by answer type.
type TypeformAdapter struct{}

func NewTypeformAdapter() *TypeformAdapter {
	return &TypeformAdapter{}
}

func (a *TypeformAdapter) Source() models.WebhookSource {
	return models.SourceTypeform
}

func (a *TypeformAdapter) VerifySignature(header http.Header, body []byte, secret string) error {
	value := header.Get(typeformSignatureHeader)
	if value == "" {
		return errs.Newf(errs.KindAuth, "missing %s header", typeformSignatureHeader)
	}
	sig, ok := strings.CutPrefix(value, "sha256=")
	if !ok {
		return errs.Newf(errs.KindAuth, "malformed %s header", typeformSignatureHeader)
	}
	if !signature.VerifyBase64(secret, body, sig) {
		return errs.New(errs.KindAuth, "signature mismatch")
	}
	return nil
}

// ExtractEntity scans form_response.answers: the first email answer is the
// entity email, the first text answer is the entity name.
func (a *TypeformAdapter) ExtractEntity(body []byte) Extracted {
	ex := Extracted{EntityType: "lead", Metadata: map[string]any{}}

	gjson.GetBytes(body, "form_response.answers").ForEach(func(_, answer gjson.Result) bool {
		switch answer.Get("type").String() {
		case "email":
			if ex.Email == "" {
				ex.Email = answer.Get("email").String()
			}
		case "text":
			if ex.Name == "" {
				ex.Name = answer.Get("text").String()
			}
		}
		return true
	})

	if v := gjson.GetBytes(body, "form_response.form_id"); v.Exists() {
		ex.Metadata["form_id"] = v.Value()
	}
	if v := gjson.GetBytes(body, "form_response.submitted_at"); v.Exists() {
		ex.Metadata["submitted_at"] = v.Value()
	}
	if v := gjson.GetBytes(body, "event_type"); v.Exists() {
		ex.Metadata["event_type"] = v.Value()
	}

	// Hidden fields ride along with the submission (utm params, user ids).
	gjson.GetBytes(body, "form_response.hidden").ForEach(func(key, value gjson.Result) bool {
		ex.Metadata[key.String()] = value.Value()
		return true
	})

	return ex
}

package webhooksrc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/signature"
)

const defaultSignatureTolerance = 5 * time.Minute

// parseTimestampedHeader parses a "t=<unix>,v1=<hex>[,v1=<hex>...]" value,
// the scheme shared by the Stripe and Calendly adapters. Unknown components
// (v0 and friends) are ignored.
func parseTimestampedHeader(value string) (int64, []string, error) {
	var ts int64
	var sigs []string
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("bad timestamp %q: %w", v, err)
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 {
		return 0, nil, fmt.Errorf("missing t component")
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("missing v1 component")
	}
	return ts, sigs, nil
}

// verifyTimestamped checks a hex HMAC-SHA256 over "{t}.{body}" and rejects
// timestamps outside the tolerance window in either direction. Any one
// matching v1 entry accepts the request.
func verifyTimestamped(value string, body []byte, secret string, tolerance time.Duration, now time.Time) error {
	ts, sigs, err := parseTimestampedHeader(value)
	if err != nil {
		return errs.Wrap(errs.KindAuth, "malformed signature header", err)
	}

	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return errs.Newf(errs.KindAuth, "signature timestamp outside tolerance: %s", drift.Truncate(time.Second))
	}

	payload := fmt.Sprintf("%d.%s", ts, body)
	for _, sig := range sigs {
		if signature.VerifyHex(secret, []byte(payload), sig) {
			return nil
		}
	}
	return errs.New(errs.KindAuth, "signature mismatch")
}

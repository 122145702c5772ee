package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// HexHMAC returns the hex-encoded HMAC-SHA256 of payload under secret.
func HexHMAC(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Base64HMAC returns the base64-encoded HMAC-SHA256 of payload under secret.
func Base64HMAC(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHex reports whether the hex-encoded given matches the HMAC-SHA256
// of payload under secret. Constant-time over the decoded bytes.
func VerifyHex(secret string, payload []byte, given string) bool {
	decoded, err := hex.DecodeString(given)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// VerifyBase64 reports whether the base64-encoded given matches the
// HMAC-SHA256 of payload under secret.
func VerifyBase64(secret string, payload []byte, given string) bool {
	decoded, err := base64.StdEncoding.DecodeString(given)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// EqualConstantTime compares two strings without leaking length-prefix
// timing. Used for bare token schemes (no HMAC).
func EqualConstantTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

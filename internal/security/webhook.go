package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignaturePrefix precedes the hex digest in the webhook signature header.
const SignaturePrefix = "sha256="

// ErrInvalidSignature indicates a missing or mismatched webhook signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignPayload returns the header value for body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks header against an HMAC-SHA256 of the raw body.
// The comparison is constant time over the exact bytes.
func VerifyPayload(secret string, body []byte, header string) error {
	if secret == "" {
		return ErrInvalidSignature
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, SignaturePrefix) {
		return ErrInvalidSignature
	}
	expected := SignPayload(secret, body)
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ErrInvalidSignature
	}
	return nil
}

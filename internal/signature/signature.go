// Package signature authenticates Tavus webhook deliveries. The provider is
// not consistent about how it presents the HMAC: the header value may be raw
// hex, raw base64, prefixed ("sha256=<sig>"), or a comma-separated key=value
// list. Verification computes HMAC-SHA256 over the exact raw request bytes
// and accepts the first encoding that matches.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// signatureKeys are the recognized keys in a comma-separated key=value
// signature header, in match order.
var signatureKeys = []string{"v1", "signature", "sha256"}

// Verify reports whether signatureHeader is a valid HMAC-SHA256 of rawBody
// under secret. The extracted signature value is decoded first as hex, then
// as base64; comparison is constant-time.
func Verify(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}

	value := extractSignature(signatureHeader)
	if value == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	computed := mac.Sum(nil)

	if decoded, err := hex.DecodeString(value); err == nil {
		if hmac.Equal(computed, decoded) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		if hmac.Equal(computed, decoded) {
			return true
		}
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(value); err == nil {
		if hmac.Equal(computed, decoded) {
			return true
		}
	}

	return false
}

// VerifyToken compares a URL query token against the configured token in
// constant time. An empty configured token never matches.
func VerifyToken(token, configured string) bool {
	if token == "" || configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(configured)) == 1
}

// extractSignature pulls the signature value out of a header that may be a
// bare value, a "sha256="-prefixed value, or comma-separated key=value pairs.
func extractSignature(header string) string {
	header = strings.TrimSpace(header)

	if strings.Contains(header, ",") {
		pairs := parsePairs(header)
		for _, key := range signatureKeys {
			if v, ok := pairs[key]; ok && v != "" {
				return v
			}
		}
		return ""
	}

	if v, ok := strings.CutPrefix(header, "sha256="); ok {
		return strings.TrimSpace(v)
	}

	return header
}

func parsePairs(header string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := pairs[key]; !exists {
			pairs[key] = strings.TrimSpace(value)
		}
	}
	return pairs
}

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func TestVerify_Encodings(t *testing.T) {
	body := []byte(`{"event_type":"conversation_toolcall"}`)
	secret := "shhh-very-secret"
	raw := sign(body, secret)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"raw hex", hex.EncodeToString(raw), true},
		{"raw base64", base64.StdEncoding.EncodeToString(raw), true},
		{"raw base64 unpadded", base64.RawStdEncoding.EncodeToString(raw), true},
		{"sha256 prefix", "sha256=" + hex.EncodeToString(raw), true},
		{"v1 pair", "t=1700000000,v1=" + hex.EncodeToString(raw), true},
		{"signature pair", "signature=" + base64.StdEncoding.EncodeToString(raw), true},
		{"sha256 pair", "t=1700000000,sha256=" + hex.EncodeToString(raw), true},
		{"garbage", "not-a-signature", false},
		{"empty", "", false},
		{"unknown pair key", "t=1700000000,v2=" + hex.EncodeToString(raw), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(body, tt.header, secret); got != tt.want {
				t.Errorf("Verify(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	raw := sign(body, "other-secret")

	if Verify(body, hex.EncodeToString(raw), "real-secret") {
		t.Error("signature computed with a different secret must not verify")
	}
}

func TestVerify_MutatedBody(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "real-secret"
	raw := sign(body, secret)

	mutated := []byte(`{"id":"evt_2"}`)
	if Verify(mutated, hex.EncodeToString(raw), secret) {
		t.Error("signature over a mutated body must not verify")
	}
}

func TestVerify_EmptySecret(t *testing.T) {
	body := []byte(`{}`)
	raw := sign(body, "")
	if Verify(body, hex.EncodeToString(raw), "") {
		t.Error("empty secret must never verify")
	}
}

func TestVerifyToken(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		configured string
		want       bool
	}{
		{"match", "tok-123", "tok-123", true},
		{"mismatch", "tok-456", "tok-123", false},
		{"empty token", "", "tok-123", false},
		{"empty configured", "tok-123", "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyToken(tt.token, tt.configured); got != tt.want {
				t.Errorf("VerifyToken(%q, %q) = %v, want %v", tt.token, tt.configured, got, tt.want)
			}
		})
	}
}

func TestExtractSignature_PairOrder(t *testing.T) {
	// v1 wins over later keys regardless of position.
	got := extractSignature("sha256=bbb,v1=aaa")
	if got != "aaa" {
		t.Errorf("extractSignature = %q, want %q", got, "aaa")
	}
}

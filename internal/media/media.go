// Package media issues time-boxed signed URLs for demo video objects.
package media

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SignedURLTTL is how long a playback URL stays valid.
const SignedURLTTL = time.Hour

// Issuer produces a time-boxed signed URL for a stored object path.
type Issuer interface {
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// HMACIssuer signs object URLs locally: the serving edge validates
// expires+sig with the same secret. Used when no external object store
// issuer is configured.
type HMACIssuer struct {
	baseURL *url.URL
	secret  []byte
}

// NewHMACIssuer creates an issuer serving objects under baseURL.
func NewHMACIssuer(baseURL, secret string) (*HMACIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("media signing secret must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid media base url: %w", err)
	}
	return &HMACIssuer{baseURL: u, secret: []byte(secret)}, nil
}

// SignedURL returns baseURL/objectPath?expires=<unix>&sig=<hex hmac>.
func (i *HMACIssuer) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("object path must not be empty")
	}

	expires := time.Now().Add(ttl).Unix()
	expiresStr := strconv.FormatInt(expires, 10)

	mac := hmac.New(sha256.New, i.secret)
	fmt.Fprintf(mac, "%s\n%s", objectPath, expiresStr)
	sig := hex.EncodeToString(mac.Sum(nil))

	u := *i.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(objectPath, "/")
	q := u.Query()
	q.Set("expires", expiresStr)
	q.Set("sig", sig)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

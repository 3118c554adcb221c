// Package crypto signs outbound webhook requests so receivers can verify
// they came from the relay.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried on signed requests.
const (
	HeaderTimestamp = "X-Arena-Timestamp"
	HeaderSignature = "X-Arena-Signature"
)

// HMACSigner computes HMAC-SHA256(secret, timestamp+method+path+body),
// base64-encoded.
type HMACSigner struct {
	secret []byte
	now    func() time.Time
}

// NewHMACSigner returns a signer for secret. An empty secret returns nil,
// which signs nothing.
func NewHMACSigner(secret string) *HMACSigner {
	if secret == "" {
		return nil
	}
	return &HMACSigner{secret: []byte(secret), now: time.Now}
}

// Headers returns the signature headers for a request sent now.
func (s *HMACSigner) Headers(method, path string, body []byte) map[string]string {
	if s == nil {
		return nil
	}
	return s.HeadersAt(method, path, body, s.now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (s *HMACSigner) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: sign(s.secret, ts, method, path, body),
	}
}

// Verify reports whether signature matches the request fields under secret.
func Verify(secret, timestamp, method, path string, body []byte, signature string) bool {
	want := sign([]byte(secret), timestamp, method, path, body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// String returns a redacted representation suitable for logging.
func (s *HMACSigner) String() string {
	if s == nil || len(s.secret) <= 4 {
		return "HMACSigner{secret=****}"
	}
	return fmt.Sprintf("HMACSigner{secret=%s****}", s.secret[:4])
}

func sign(key []byte, ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

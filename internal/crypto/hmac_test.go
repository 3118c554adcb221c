package crypto

import (
	"testing"
	"time"
)

func TestHMACSignerRoundTrip(t *testing.T) {
	s := NewHMACSigner("webhook-secret")
	body := []byte(`{"token":"signals:a"}`)

	h := s.HeadersAt("POST", "/api/agents/start", body, 1767225600)
	if h[HeaderTimestamp] != "1767225600" {
		t.Fatalf("timestamp = %q", h[HeaderTimestamp])
	}
	if !Verify("webhook-secret", h[HeaderTimestamp], "POST", "/api/agents/start", body, h[HeaderSignature]) {
		t.Fatal("signature did not verify")
	}

	tests := []struct {
		name                 string
		secret, method, path string
		body                 string
	}{
		{"wrong secret", "other", "POST", "/api/agents/start", `{"token":"signals:a"}`},
		{"wrong method", "webhook-secret", "GET", "/api/agents/start", `{"token":"signals:a"}`},
		{"wrong path", "webhook-secret", "POST", "/start", `{"token":"signals:a"}`},
		{"tampered body", "webhook-secret", "POST", "/api/agents/start", `{"token":"signals:b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.secret, h[HeaderTimestamp], tt.method, tt.path, []byte(tt.body), h[HeaderSignature]) {
				t.Fatal("mismatched request verified")
			}
		})
	}
}

func TestHMACSignerDeterministic(t *testing.T) {
	s := NewHMACSigner("k")
	s.now = func() time.Time { return time.Unix(100, 0) }
	a := s.Headers("POST", "/p", []byte("x"))
	b := s.HeadersAt("POST", "/p", []byte("x"), 100)
	if a[HeaderSignature] != b[HeaderSignature] {
		t.Fatal("same inputs produced different signatures")
	}
}

func TestNilSigner(t *testing.T) {
	s := NewHMACSigner("")
	if s != nil {
		t.Fatal("empty secret produced a signer")
	}
	if h := s.Headers("POST", "/", nil); h != nil {
		t.Fatalf("nil signer headers = %v", h)
	}
	if NewHMACSigner("abcdef").String() != "HMACSigner{secret=abcd****}" {
		t.Fatal("String() leaked or mis-redacted the secret")
	}
}

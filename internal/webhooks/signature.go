package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const signaturePrefix = "sha256="

// Comparer decides whether two signatures are equal.
type Comparer interface {
	Equal(a, b []byte) bool
}

// ConstantTimeComparer compares in time independent of where the inputs
// differ. Length mismatches still run the comparison.
type ConstantTimeComparer struct{}

func (ConstantTimeComparer) Equal(a, b []byte) bool {
	if len(a) != len(b) {
		subtle.ConstantTimeCompare(a, a)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Signer produces and checks X-Webhook-Signature values.
type Signer struct {
	Comparer Comparer
}

func NewSigner() *Signer {
	return &Signer{Comparer: ConstantTimeComparer{}}
}

// Sign returns "sha256=" followed by lowercase hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the signature of payload under
// secret. Malformed signatures are simply not equal.
func (s *Signer) Verify(payload []byte, signature string, secret []byte) bool {
	cmp := s.Comparer
	if cmp == nil {
		cmp = ConstantTimeComparer{}
	}
	expected := s.Sign(payload, secret)
	return cmp.Equal([]byte(expected), []byte(signature))
}

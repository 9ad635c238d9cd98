package webhooks

import (
	"strings"
	"testing"
)

func TestSignFormatAndDeterminism(t *testing.T) {
	s := NewSigner()
	payload := []byte(`{"event":"trace.completed","data":{"id":1}}`)
	a := s.Sign(payload, []byte("secret"))
	b := s.Sign(payload, []byte("secret"))
	if a != b {
		t.Fatalf("signature not deterministic: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256=") || len(a) != len("sha256=")+64 {
		t.Fatalf("unexpected format: %s", a)
	}
	if strings.ToLower(a) != a {
		t.Fatalf("hex must be lowercase: %s", a)
	}
}

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := NewSigner().Sign([]byte("what do ya want for nothing?"), []byte("Jefe"))
	want := "sha256=5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("want %s got %s", want, got)
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	s := NewSigner()
	payload := []byte(`{"event":"span.failed"}`)
	secret := []byte("k")
	sig := s.Sign(payload, secret)
	if !s.Verify(payload, sig, secret) {
		t.Fatalf("valid signature rejected")
	}
	if s.Verify([]byte(`{"event":"span.failed "}`), sig, secret) {
		t.Fatalf("mutated payload accepted")
	}
	if s.Verify(payload, sig, []byte("other")) {
		t.Fatalf("wrong secret accepted")
	}
	flipped := sig[:len(sig)-1] + "0"
	if sig[len(sig)-1] == '0' {
		flipped = sig[:len(sig)-1] + "1"
	}
	if s.Verify(payload, flipped, secret) {
		t.Fatalf("mutated signature accepted")
	}
	for _, bad := range []string{"", "sha256=", "sha256=zz", strings.TrimPrefix(sig, "sha256="), sig + "00"} {
		if s.Verify(payload, bad, secret) {
			t.Fatalf("malformed signature %q accepted", bad)
		}
	}
}

type countingComparer struct{ calls int }

func (c *countingComparer) Equal(a, b []byte) bool {
	c.calls++
	return string(a) == string(b)
}

func TestVerifyUsesComparer(t *testing.T) {
	cmp := &countingComparer{}
	s := &Signer{Comparer: cmp}
	sig := s.Sign([]byte("x"), []byte("k"))
	if !s.Verify([]byte("x"), sig, []byte("k")) || cmp.calls != 1 {
		t.Fatalf("comparer not used: calls=%d", cmp.calls)
	}
}

func TestConstantTimeComparer(t *testing.T) {
	var c ConstantTimeComparer
	if !c.Equal([]byte("abc"), []byte("abc")) {
		t.Fatalf("equal inputs")
	}
	if c.Equal([]byte("abc"), []byte("abd")) || c.Equal([]byte("abc"), []byte("ab")) || c.Equal(nil, []byte("a")) {
		t.Fatalf("unequal inputs reported equal")
	}
}

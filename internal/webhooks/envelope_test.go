package webhooks

import (
	"strings"
	"testing"
	"time"
)

func TestCanonicalEnvelope(t *testing.T) {
	data := map[string]any{"zeta": 1, "alpha": "<b>&</b>", "mid": []any{true, nil}}
	env := NewEnvelope("org_1", "trace.completed", data, time.Date(2025, 1, 2, 3, 4, 5, 6_789_000, time.FixedZone("X", 3600)))
	got, err := Canonical(env)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"event":"trace.completed","data":{"alpha":"<b>&</b>","mid":[true,null],"zeta":1},"timestamp":"2025-01-02T02:04:05.006Z","organizationId":"org_1"}`
	if string(got) != want {
		t.Fatalf("canonical mismatch:\nwant %s\ngot  %s", want, got)
	}
	again, _ := Canonical(env)
	if string(again) != string(got) {
		t.Fatalf("canonical form not stable")
	}
	if strings.HasSuffix(string(got), "\n") {
		t.Fatalf("trailing newline")
	}
}

func TestCanonicalRejectsUnencodable(t *testing.T) {
	env := NewEnvelope("org", "x", map[string]any{"f": func() {}}, time.Now())
	if _, err := Canonical(env); err == nil {
		t.Fatalf("expected encode error")
	}
}

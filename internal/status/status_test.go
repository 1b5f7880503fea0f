package status

import "testing"

func TestVerify(t *testing.T) {
	if err := Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, p := range Persisted() {
		e, ok := ToExternal(p)
		if !ok {
			t.Fatalf("no external mapping for %q", p)
		}
		back, ok := ToPersisted(e)
		if !ok || back != p {
			t.Fatalf("round trip %q -> %q -> %q", p, e, back)
		}
	}
	for _, e := range External() {
		p, ok := ToPersisted(e)
		if !ok {
			t.Fatalf("no persisted mapping for %q", e)
		}
		back, ok := ToExternal(p)
		if !ok || back != e {
			t.Fatalf("round trip %q -> %q -> %q", e, p, back)
		}
	}
}

func TestReviewMapsToItself(t *testing.T) {
	e, _ := ToExternal(Review)
	if e != "review" {
		t.Fatalf("expected review to map to itself, got %q", e)
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	if _, ok := ToExternal("cancelled"); ok {
		t.Fatalf("expected unknown persisted status to be rejected")
	}
	if _, ok := ToPersisted("archived"); ok {
		t.Fatalf("expected unknown external status to be rejected")
	}
	if ValidPersisted("") {
		t.Fatalf("empty status must not validate")
	}
}

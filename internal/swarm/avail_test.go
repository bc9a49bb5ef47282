package swarm

import (
	"testing"
	"time"
)

func TestAvailabilityCacheMarkAndLookup(t *testing.T) {
	c := NewAvailabilityCache(time.Minute)

	if c.NotFound("m1") {
		t.Fatal("empty cache reported not_found")
	}

	c.MarkNotFound("m1")
	if !c.NotFound("m1") {
		t.Fatal("expected m1 to be not_found")
	}

	c.MarkAvailable("m1")
	if c.NotFound("m1") {
		t.Fatal("available mark did not clear not_found")
	}
	if state, ok := c.State("m1"); !ok || state != ModelAvailable {
		t.Fatalf("expected available state, got %q ok=%v", state, ok)
	}
}

func TestAvailabilityCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewAvailabilityCache(10 * time.Minute)
	c.now = func() time.Time { return now }

	c.MarkNotFound("m1")
	if !c.NotFound("m1") {
		t.Fatal("expected fresh not_found")
	}

	now = now.Add(10*time.Minute + time.Second)
	if c.NotFound("m1") {
		t.Fatal("expired entry still reported not_found")
	}
	if _, ok := c.State("m1"); ok {
		t.Fatal("expired entry still visible via State")
	}
}

package ui

import "testing"

func TestGoStringRoundTrip(t *testing.T) {
	b := append([]byte("http://example.org/ui"), 0)
	if got := goString(&b[0]); got != "http://example.org/ui" {
		t.Fatalf("goString = %q", got)
	}
	if got := goString(nil); got != "" {
		t.Fatalf("goString(nil) = %q", got)
	}
}

func TestCstrIsNulTerminated(t *testing.T) {
	u := &Instance{}
	p := u.cstr("abc")
	if got := goString(p); got != "abc" {
		t.Fatalf("round trip = %q", got)
	}
	if len(u.keep) != 1 {
		t.Fatalf("cstr pinned %d allocations, want 1", len(u.keep))
	}
}

// TestCstrCachedStable checks unmap results keep their address, as the
// ABI requires of the returned C string.
func TestCstrCachedStable(t *testing.T) {
	u := &Instance{unmapCache: make(map[uint32][]byte)}
	p1 := u.cstrCached(7, "urn:a")
	p2 := u.cstrCached(7, "urn:a")
	if p1 != p2 {
		t.Fatal("cached unmap string moved between calls")
	}
}

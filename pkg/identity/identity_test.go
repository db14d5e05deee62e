package identity

import (
	"strings"
	"testing"
)

func TestKeyedIDsAreUnconditionallyStable(t *testing.T) {
	a := NewAllocator()
	site := Site{File: "app.go", Line: 10}
	if got := a.NodeID(site, "sidebar"); got != "k:sidebar" {
		t.Fatalf("expected k:sidebar, got %q", got)
	}
	// Keyed ids do not consume the site counter.
	if got := a.NodeID(site, ""); got != "w:app.go:10:0" {
		t.Fatalf("expected occurrence 0, got %q", got)
	}
}

func TestOccurrenceCounterPerSite(t *testing.T) {
	a := NewAllocator()
	loop := Site{File: "app.go", Line: 3}
	other := Site{File: "app.go", Line: 5}

	ids := []string{
		a.NodeID(loop, ""),
		a.NodeID(loop, ""),
		a.NodeID(other, ""),
		a.NodeID(loop, ""),
	}
	want := []string{"w:app.go:3:0", "w:app.go:3:1", "w:app.go:5:0", "w:app.go:3:2"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("id %d: expected %q, got %q", i, want[i], ids[i])
		}
	}
}

func TestStabilityAcrossRuns(t *testing.T) {
	run := func() []string {
		a := NewAllocator()
		var ids []string
		for i := 0; i < 3; i++ {
			ids = append(ids, a.NodeID(Site{File: "app.go", Line: 3}, ""))
		}
		ids = append(ids, a.NodeID(Site{File: "app.go", Line: 7}, ""))
		return ids
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("id %d changed across runs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSkippedSiteDoesNotShiftOthers(t *testing.T) {
	siteA := Site{File: "app.go", Line: 3}
	siteB := Site{File: "app.go", Line: 9}

	run1 := NewAllocator()
	run1.NodeID(siteA, "")
	idB1 := run1.NodeID(siteB, "")

	// Run 2 skips site A entirely; site B's id must not shift.
	run2 := NewAllocator()
	idB2 := run2.NodeID(siteB, "")
	if idB1 != idB2 {
		t.Fatalf("site B id shifted: %q vs %q", idB1, idB2)
	}
}

func TestHereCapturesThisFile(t *testing.T) {
	site := Here()
	if site.File != "identity_test.go" {
		t.Fatalf("expected identity_test.go, got %q", site.File)
	}
	if site.Line == 0 {
		t.Fatal("expected non-zero line")
	}
	if !strings.Contains(site.String(), "identity_test.go:") {
		t.Fatalf("unexpected site string %q", site.String())
	}
}

func helperSite() Site {
	return Callsite(1)
}

func TestCallsiteSkipNamesCaller(t *testing.T) {
	site := helperSite()
	if site.File != "identity_test.go" {
		t.Fatalf("expected caller's file, got %q", site.File)
	}
}

func TestResetZeroesCounters(t *testing.T) {
	a := NewAllocator()
	site := Site{File: "app.go", Line: 3}
	a.NodeID(site, "")
	a.NodeID(site, "")
	a.Reset()
	if got := a.NodeID(site, ""); got != "w:app.go:3:0" {
		t.Fatalf("expected occurrence 0 after reset, got %q", got)
	}
}

// Package identity assigns stable ids to emitted nodes across script reruns.
//
// The script has no persistent object graph, so identity is derived from the
// emitting call site plus an occurrence counter scoped to (run, site): the
// counter resets at the start of every run and increments each time the same
// site emits again within the run, which disambiguates calls inside loops.
// Identity is therefore stable across runs as long as control flow visits a
// site the same number of times in the same order. Callers that need per-item
// stability across reordered collections must supply an explicit key; keyed
// ids are unconditionally stable.
package identity

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Site is an explicit call-site token: the source location of the element
// call that is emitting a node. Sites are values, never discovered by walking
// a call stack; constructors capture their caller with a single fixed-depth
// lookup.
type Site struct {
	File string
	Line int
}

// Here captures the call site of the code invoking Here.
func Here() Site {
	return Callsite(1)
}

// Callsite captures a call site a fixed number of frames above the caller.
// skip=0 is the caller of Callsite itself; element constructors use skip=2 to
// name the user code that invoked them.
func Callsite(skip int) Site {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Site{File: "unknown", Line: 0}
	}
	return Site{File: filepath.Base(file), Line: line}
}

// String renders the site as "file.go:42".
func (s Site) String() string {
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

// Allocator assigns node ids for one run. Not safe for concurrent use; each
// run owns exactly one allocator, matching the single-threaded tree build.
type Allocator struct {
	counts map[Site]int
}

// NewAllocator returns an allocator with all occurrence counters at zero.
func NewAllocator() *Allocator {
	return &Allocator{counts: make(map[Site]int)}
}

// Reset zeroes every occurrence counter, as happens at the start of a run.
func (a *Allocator) Reset() {
	a.counts = make(map[Site]int)
}

// NodeID returns the id for one emission. An explicit key wins
// unconditionally and yields "k:<key>". Otherwise the id is
// "w:<file>:<line>:<occurrence>" where occurrence counts prior emissions from
// the same site within this run.
func (a *Allocator) NodeID(site Site, key string) string {
	if key != "" {
		return "k:" + key
	}
	n := a.counts[site]
	a.counts[site] = n + 1
	return fmt.Sprintf("w:%s:%d:%d", site.File, site.Line, n)
}

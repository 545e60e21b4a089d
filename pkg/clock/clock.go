// Package clock abstracts wall time so the broker, risk engine and
// strategies can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time in epoch seconds. All domain
// timestamps (orders, fills, tape records) use this resolution.
type Clock interface {
	Now() float64
}

// Real is the wall clock.
type Real struct{}

// Now returns the current wall time in epoch seconds.
func (Real) Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// New returns the wall clock.
func New() Clock { return Real{} }

// Fake is a manually-advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now float64
}

// NewFake creates a fake clock starting at the given epoch seconds.
func NewFake(start float64) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d seconds.
func (f *Fake) Advance(d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

// Set jumps the fake clock to the given epoch seconds.
func (f *Fake) Set(ts float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = ts
}

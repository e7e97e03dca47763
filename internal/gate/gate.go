// Package gate provides a process-wide single-flight gate: at most one
// privileged operation may be active at a time. A caller that fails to
// acquire the gate is told the system is busy and is never queued.
package gate

import (
	"fmt"
	"sync/atomic"
	"time"
)

const idleStatus = "Idle"

// Info is a snapshot of the gate for diagnostics.
type Info struct {
	Active bool      `json:"active"`
	Status string    `json:"status"`
	Source string    `json:"source,omitempty"`
	Target string    `json:"target,omitempty"`
	Since  time.Time `json:"since,omitzero"`
}

// Gate is safe for concurrent use. The zero value is idle.
type Gate struct {
	active atomic.Bool
	info   atomic.Pointer[Info]
}

// New returns an idle gate.
func New() *Gate { return &Gate{} }

// TryStart acquires the gate for source acting on target. It returns false
// when another operation already holds it.
func (g *Gate) TryStart(source, target string) bool {
	if !g.active.CompareAndSwap(false, true) {
		return false
	}
	g.info.Store(&Info{
		Active: true,
		Status: fmt.Sprintf("Active from %s -> %s", source, target),
		Source: source,
		Target: target,
		Since:  time.Now(),
	})
	return true
}

// Stop releases the gate regardless of who holds it.
func (g *Gate) Stop(source string) {
	g.info.Store(&Info{
		Status: fmt.Sprintf("Idle (last source: %s)", source),
		Source: source,
		Since:  time.Now(),
	})
	g.active.Store(false)
}

// Active reports whether the gate is held.
func (g *Gate) Active() bool { return g.active.Load() }

// Status returns the human-readable gate status.
func (g *Gate) Status() string { return g.Info().Status }

// Info returns the latest snapshot.
func (g *Gate) Info() Info {
	if info := g.info.Load(); info != nil {
		return *info
	}
	return Info{Status: idleStatus}
}

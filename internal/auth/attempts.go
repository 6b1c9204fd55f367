package auth

import "fmt"

// Attempts bounds workspace-resolution attempts for one run. It is created
// by the orchestrator, passed explicitly through the login flow and the
// readiness poller, and reset at the start of every run.
type Attempts struct {
	max  int
	used int
}

// NewAttempts allows max attempts per run.
func NewAttempts(max int) *Attempts {
	return &Attempts{max: max}
}

// Acquire claims the next attempt. It refuses, before anything is tried,
// once max attempts have been used.
func (a *Attempts) Acquire() error {
	if a.used >= a.max {
		return fmt.Errorf("%w: %d of %d used", ErrWorkspaceResolutionExhausted, a.used, a.max)
	}
	a.used++
	return nil
}

// Used reports how many attempts have been claimed.
func (a *Attempts) Used() int { return a.used }

// Max reports the cap.
func (a *Attempts) Max() int { return a.max }

// Reset clears the counter for a new run.
func (a *Attempts) Reset() { a.used = 0 }

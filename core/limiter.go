package core

import (
	"errors"
	"sync"
)

// ErrTurnLimit is returned by TurnLimiter.Next once the ceiling is reached.
var ErrTurnLimit = errors.New("turn limit reached")

// TurnLimiter enforces a maximum number of reasoning turns per request.
type TurnLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewTurnLimiter creates a limiter allowing at most max turns.
// If max <= 0, unlimited turns are allowed.
func NewTurnLimiter(max int) *TurnLimiter {
	return &TurnLimiter{max: max}
}

// Next claims the next turn and returns its 1-based number, or ErrTurnLimit
// when the ceiling has been reached.
func (tl *TurnLimiter) Next() (int, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max > 0 && tl.count >= tl.max {
		return tl.count, ErrTurnLimit
	}
	tl.count++

	return tl.count, nil
}

// Count returns the number of turns claimed so far.
func (tl *TurnLimiter) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	return tl.count
}

// Remaining returns how many turns are left before hitting the limit.
func (tl *TurnLimiter) Remaining() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max <= 0 {
		return -1 // unlimited
	}

	return tl.max - tl.count
}

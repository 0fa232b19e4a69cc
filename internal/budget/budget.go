// Package budget enforces per-role resource ceilings (steps, tokens, wall
// time). Counters are consumed monotonically and never replenished within a
// run; each role loop owns an independent controller.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExceeded signals that a counter would pass its ceiling. The
// caller must take its abort path; the turn that triggered the check does
// not execute.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limits holds the ceilings for a single role. A zero value disables that
// ceiling.
type Limits struct {
	MaxSteps  int
	MaxTokens int
	MaxWall   time.Duration
}

// Usage reports consumed resources.
type Usage struct {
	Steps   int           `json:"steps"`
	Tokens  int           `json:"tokens"`
	Elapsed time.Duration `json:"elapsed"`
}

// Controller tracks consumption against Limits for one role loop.
type Controller struct {
	mu     sync.Mutex
	limits Limits
	steps  int
	tokens int
	start  time.Time

	// pending is the estimate charged by the last Consume, still awaiting
	// its Record true-up.
	pending int

	// now is overridable for deterministic tests.
	now func() time.Time
}

// NewController creates a controller; the wall clock starts immediately.
func NewController(limits Limits) *Controller {
	c := &Controller{
		limits: limits,
		now:    time.Now,
	}
	c.start = c.now()
	return c
}

// Consume is called once per turn before the turn executes. It charges one
// step plus the estimated token cost of the upcoming turn. If any counter
// would exceed its ceiling the call fails closed with ErrBudgetExceeded and
// nothing is charged.
func (c *Controller) Consume(estimatedTokens int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limits.MaxSteps > 0 && c.steps+1 > c.limits.MaxSteps {
		return fmt.Errorf("%w: steps %d/%d", ErrBudgetExceeded, c.steps, c.limits.MaxSteps)
	}
	if c.limits.MaxTokens > 0 && c.tokens+estimatedTokens > c.limits.MaxTokens {
		return fmt.Errorf("%w: tokens %d+%d/%d", ErrBudgetExceeded, c.tokens, estimatedTokens, c.limits.MaxTokens)
	}
	if c.limits.MaxWall > 0 {
		if elapsed := c.now().Sub(c.start); elapsed > c.limits.MaxWall {
			return fmt.Errorf("%w: elapsed %s/%s", ErrBudgetExceeded, elapsed.Round(time.Millisecond), c.limits.MaxWall)
		}
	}

	c.steps++
	c.tokens += estimatedTokens
	c.pending = estimatedTokens
	return nil
}

// Record replaces the pending estimate with the observed token usage once
// the delegate responds. A turn that never reaches Record (delegate failure)
// keeps its estimate charged. Recording may push the counter past its
// ceiling; the next Consume then fails.
func (c *Controller) Record(actualTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens += actualTokens - c.pending
	c.pending = 0
}

// Usage returns a snapshot of consumed resources.
func (c *Controller) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Usage{
		Steps:   c.steps,
		Tokens:  c.tokens,
		Elapsed: c.now().Sub(c.start),
	}
}

// Limits returns the configured ceilings.
func (c *Controller) Limits() Limits {
	return c.limits
}

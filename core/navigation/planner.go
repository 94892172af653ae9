package navigation

import (
	"errors"
	"fmt"

	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/xlog"
)

// ErrInvariant is returned when the next step of the current path cannot be
// turned into an action of the current state, which Advance rules out.
var ErrInvariant = errors.New("navigation invariant violated")

const (
	DefaultMaxSimilarity = 0.8
	DefaultMinSimilarity = 0.6
	DefaultStep          = 0.05
	DefaultMaxAttempts   = 3
)

// Outcome is the result of checking an observed state against the path.
type Outcome int

const (
	// MatchedContinue: the state matches a step and more steps remain.
	MatchedContinue Outcome = iota
	// MatchedDone: the state matches the last step, the target is reached.
	MatchedDone
	// Failed: no remaining step matches the state.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case MatchedContinue:
		return "matched"
	case MatchedDone:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Recovery is what to do after a failed navigation step.
type Recovery int

const (
	// RetryPath: an alternate path to the same target is now current.
	RetryPath Recovery = iota
	// NewTarget: ask for a new target and compute new paths.
	NewTarget
	// Abandon: give up the navigation round.
	Abandon
)

func (r Recovery) String() string {
	switch r {
	case RetryPath:
		return "retry_path"
	case NewTarget:
		return "new_target"
	case Abandon:
		return "abandon"
	}
	return fmt.Sprintf("recovery(%d)", int(r))
}

// StateLookup resolves a concrete state id.
type StateLookup func(id int) *types.State

// Planner follows precomputed paths toward a guide target, tolerating
// divergence between the recorded path and the live app.
type Planner struct {
	similarity  types.SimilarityFunc
	lookup      StateLookup
	max         float64
	min         float64
	step        float64
	maxAttempts int

	tolerance  float64
	current    types.Path
	alternates []types.Path
	attempts   int
}

type Option func(*Planner) error

// WithSimilarityRange sets the starting tolerance and its floor.
func WithSimilarityRange(max, min float64) Option {
	return func(p *Planner) error {
		if min > max {
			return fmt.Errorf("minimum similarity %.2f above maximum %.2f", min, max)
		}
		p.max, p.min = max, min
		return nil
	}
}

func WithStep(step float64) Option {
	return func(p *Planner) error {
		p.step = step
		return nil
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Planner) error {
		if n <= 0 {
			return fmt.Errorf("max attempts must be positive, got %d", n)
		}
		p.maxAttempts = n
		return nil
	}
}

func New(similarity types.SimilarityFunc, lookup StateLookup, opts ...Option) (*Planner, error) {
	p := &Planner{
		similarity:  similarity,
		lookup:      lookup,
		max:         DefaultMaxSimilarity,
		min:         DefaultMinSimilarity,
		step:        DefaultStep,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	p.tolerance = p.max
	return p, nil
}

// Begin makes the first path current and keeps the others as alternates. It
// reports false when there is no path at all.
func (p *Planner) Begin(paths []types.Path) bool {
	p.current = types.Path{}
	p.alternates = nil
	if len(paths) == 0 {
		return false
	}
	p.current = paths[0].Clone()
	for _, alt := range paths[1:] {
		p.alternates = append(p.alternates, alt.Clone())
	}
	return true
}

// Attempt counts a new guide request for this round.
func (p *Planner) Attempt() int {
	p.attempts++
	return p.attempts
}

func (p *Planner) Attempts() int {
	return p.attempts
}

func (p *Planner) Tolerance() float64 {
	return p.tolerance
}

// Remaining is the number of steps left on the current path.
func (p *Planner) Remaining() int {
	return p.current.Len()
}

// Advance consumes path steps until one matches state. Steps that do not
// match are skipped, so the live app may be ahead of the path.
func (p *Planner) Advance(state *types.State) Outcome {
	target := -1
	for !p.current.Empty() {
		step := p.current.Pop()
		target = step.Target

		if state.ID == step.Target {
			return p.matched(state, target)
		}

		if step.Action != nil && step.Action.Type.IsRestart() {
			// The first screen after a restart counts as reached.
			if p.current.Empty() || p.substitute(state) {
				return p.matched(state, target)
			}
			continue
		}

		var score float64
		if expected := p.lookup(step.Target); expected != nil {
			score = p.similarity(state, expected)
		}
		xlog.Debug("Similarity between path target and current state", "target", step.Target, "state", state.ID, "similarity", score, "tolerance", p.tolerance)
		if score > p.tolerance {
			if p.current.Empty() || p.substitute(state) {
				return p.matched(state, target)
			}
		}
		xlog.Debug("Path does not match, trying to skip the step", "target", step.Target, "state", state.ID)
	}

	xlog.Info("Navigation step failed", "target", target, "state", state.ID)
	return Failed
}

func (p *Planner) matched(state *types.State, target int) Outcome {
	if p.current.Empty() {
		xlog.Info("Reached navigation target", "target", target, "state", state.ID)
		return MatchedDone
	}
	xlog.Debug("Navigation step matched", "target", target, "state", state.ID, "remaining", p.current.Len())
	return MatchedContinue
}

// substitute rewrites the next step to use the equivalent action of state.
func (p *Planner) substitute(state *types.State) bool {
	next := p.current.Front()
	replace := state.FindSimilarAction(next.Action)
	if replace == nil {
		return false
	}
	xlog.Debug("Replacing next step with a similar action of the current state", "state", state.ID, "action", replace.String())
	next.Action = replace.Clone()
	return true
}

// NextAction returns the action of state that performs the next step.
func (p *Planner) NextAction(state *types.State) (*types.Action, error) {
	next := p.current.Front()
	if next == nil || next.Action == nil {
		return nil, fmt.Errorf("%w: current path has no next action", ErrInvariant)
	}
	if next.Action.Type.IsRestart() {
		return next.Action, nil
	}
	a := state.FindSimilarAction(next.Action)
	if a == nil {
		return nil, fmt.Errorf("%w: state %d has no action like %s", ErrInvariant, state.ID, next.Action)
	}
	return a, nil
}

// Recover decides how to continue after Failed. The similarity tolerance
// loosens by one step per failure once a guide attempt was made.
func (p *Planner) Recover() Recovery {
	if p.attempts >= 1 && p.tolerance > p.min {
		p.tolerance = max(p.min, p.tolerance-p.step)
	}

	if len(p.alternates) > 0 {
		p.current, p.alternates = p.alternates[0], p.alternates[1:]
		xlog.Info("Retrying with an alternate path", "remaining_alternates", len(p.alternates), "tolerance", p.tolerance)
		return RetryPath
	}
	if p.attempts < p.maxAttempts {
		xlog.Info("No path left, asking for a new target", "attempts", p.attempts)
		return NewTarget
	}
	xlog.Info("Navigation failed too many times, giving up", "attempts", p.attempts)
	return Abandon
}

// Reset ends the round: paths are dropped, counters and tolerance return to
// their initial values.
func (p *Planner) Reset() {
	p.current = types.Path{}
	p.alternates = nil
	p.attempts = 0
	p.tolerance = p.max
}

package agent

import (
	"math/rand"

	"github.com/mudler/LocalExplorer/core/types"
)

const (
	unvisitedNoTargetBonus = 5
	unvisitedTargetBonus   = 20
	unsaturatedFactor      = 5
)

// AdjustActions recomputes the priority of every action of state and the
// aggregate priority of the state. Invalid target actions keep their base
// priority and do not count toward the aggregate.
func AdjustActions(state *types.State) {
	total := 0
	for _, a := range state.Actions {
		base := a.BasePriority()
		a.Priority = base

		if !a.RequireTarget() {
			if !a.Visited {
				a.Priority += unvisitedNoTargetBonus
			}
			continue
		}
		if !a.Valid {
			continue
		}

		p := base
		if !a.Visited {
			p += unvisitedTargetBonus
		}
		if !state.IsSaturated(a) {
			p += unsaturatedFactor * base
		}
		a.Priority = max(p, 0)
		total += a.Priority - base
	}
	state.Priority = total
}

// pickWeighted draws an action passing filter with probability proportional
// to its priority.
func pickWeighted(r *rand.Rand, state *types.State, filter types.ActionFilter) *types.Action {
	total := 0
	for _, a := range state.Actions {
		if filter(a) && a.Priority > 0 {
			total += a.Priority
		}
	}
	if total == 0 {
		return nil
	}

	n := r.Intn(total)
	for _, a := range state.Actions {
		if !filter(a) || a.Priority <= 0 {
			continue
		}
		if n < a.Priority {
			return a
		}
		n -= a.Priority
	}
	return nil
}

// pickValid draws uniformly among the valid actions.
func pickValid(r *rand.Rand, state *types.State) *types.Action {
	var valid []*types.Action
	for _, a := range state.Actions {
		if a.Valid {
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return valid[r.Intn(len(valid))]
}

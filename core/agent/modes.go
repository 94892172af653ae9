package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mudler/LocalExplorer/core/navigation"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/xlog"
)

func (a *Agent) setMode(m types.Mode) {
	if a.mode == m {
		return
	}
	modeTransitions.WithLabelValues(a.mode.String(), m.String()).Inc()
	xlog.Info("Switching mode", "from", a.mode.String(), "to", m.String())
	a.mode = m
}

func (a *Agent) readCoverage() float64 {
	if a.options.coverage == nil {
		return a.coverage
	}
	c, err := a.options.coverage.Coverage()
	if err != nil {
		xlog.Warn("Failed to read coverage, reusing the last value", "error", err)
		return a.coverage
	}
	a.coverage = c
	coverageRatio.Set(c)
	return c
}

// switchMode runs the mode machine for state. Only cancellation of the agent
// context is returned as an error; failed reasoning requests degrade to
// exploration.
func (a *Agent) switchMode(state *types.State) error {
	current := a.readCoverage()

	if a.mode == types.ModeExplore {
		_, threshold := a.monitor.Update(current)
		xlog.Debug("Coverage checked", "coverage", current, "threshold", threshold, "window", len(a.monitor.Window()))
		if a.monitor.ShouldPause() {
			return a.prepareForNavigation()
		}
		return nil
	}

	if a.mode == types.ModeNavigate {
		switch a.planner.Advance(state) {
		case navigation.MatchedContinue:
			return nil
		case navigation.MatchedDone:
			a.onNavigationOver(true)
		case navigation.Failed:
			return a.onNavigationFailed()
		}
	}

	if a.mode == types.ModeTestFunction {
		return a.prepareTestFunction(state)
	}
	return nil
}

// prepareForNavigation asks for a guide target once every pending request
// is answered, then computes the paths leading to it.
func (a *Agent) prepareForNavigation() error {
	a.setMode(types.ModeNavigate)

	wait, cancel := context.WithTimeout(a.context, a.resultTimeout())
	err := a.dispatcher.WaitIdle(wait)
	cancel()
	if err != nil {
		if a.context.Err() != nil {
			return a.context.Err()
		}
		xlog.Warn("Pending requests did not finish in time", "pending", a.dispatcher.Pending())
	}
	a.dumpGraph()

	a.planner.Attempt()
	a.guides++
	guidesTotal.Inc()

	guide, err := a.dispatcher.RequestGuide().Await(a.context, a.resultTimeout())
	if err != nil {
		if a.context.Err() != nil {
			return a.context.Err()
		}
		xlog.Error("Failed to get a guide target, back to exploration", "error", err)
		a.onNavigationOver(false)
		return nil
	}
	a.guide = guide
	xlog.Info("Got guide target", "state", guide.State, "cluster", guide.Cluster, "function", guide.Function)

	var paths []types.Path
	if guide.State >= 0 {
		paths = a.options.paths.FindPaths(guide.State)
	}
	if !a.planner.Begin(paths) {
		xlog.Warn("No path found to the guide target", "state", guide.State)
		return a.onNavigationFailed()
	}
	return nil
}

func (a *Agent) onNavigationFailed() error {
	xlog.Info("Navigation failed", "attempts", a.planner.Attempts())
	switch a.planner.Recover() {
	case navigation.RetryPath:
		return nil
	case navigation.NewTarget:
		a.dispatcher.MarkTested(a.guide)
		return a.prepareForNavigation()
	default:
		a.onNavigationOver(false)
		return nil
	}
}

func (a *Agent) onNavigationOver(success bool) {
	if success {
		a.successes++
		guidesSucceeded.Inc()
		a.setMode(types.ModeTestFunction)
	} else {
		a.prepareBackToExplore()
	}
	xlog.Info("Guide statistics", "succeeded", a.successes, "total", a.guides)
	a.planner.Reset()
}

// prepareBackToExplore closes a round: the target function counts as tested
// whether or not the test went through.
func (a *Agent) prepareBackToExplore() {
	a.setMode(types.ModeExplore)
	a.monitor.Reset()
	a.planner.Reset()

	a.dispatcher.MarkTested(a.guide)
	a.testSteps = 0
	a.testAction = nil
	a.dispatcher.ClearExecuted()

	for _, id := range a.index.NeedingReanalysis() {
		a.dispatcher.RequestReanalysis(id)
	}
}

func (a *Agent) prepareTestFunction(state *types.State) error {
	a.testAction = nil
	if a.testSteps >= a.options.config.TestSteps {
		xlog.Info("Function test step budget exhausted", "function", a.guide.Function, "steps", a.testSteps)
		return nil
	}
	a.testSteps++

	action, err := a.dispatcher.RequestTestAction(state).Await(a.context, a.resultTimeout())
	if err != nil {
		if a.context.Err() != nil {
			return a.context.Err()
		}
		xlog.Error("Failed to get the next test action", "function", a.guide.Function, "error", err)
		return nil
	}
	a.testAction = action
	return nil
}

// resolveAction picks the action for state according to the current mode.
func (a *Agent) resolveAction(state *types.State) (*types.Action, error) {
	AdjustActions(state)

	switch a.mode {
	case types.ModeNavigate:
		action, err := a.planner.NextAction(state)
		if err != nil {
			xlog.Error("Failed to resolve the navigation step", "state", state.ID, "error", err)
			a.onNavigationOver(false)
			return nil, err
		}
		return action, nil
	case types.ModeTestFunction:
		if a.testAction != nil {
			chosen := a.testAction
			a.testAction = nil
			action := state.FindAction(chosen.ElementID, chosen.Type)
			if action == nil {
				action = chosen
			}
			action.InputText = chosen.InputText
			xlog.Info("Executing action chosen by the reasoning service", "action", action.String())
			return action, nil
		}
		xlog.Info("No action from the reasoning service, back to exploration")
		a.prepareBackToExplore()
	}

	return a.selectAction(state)
}

func (a *Agent) selectAction(state *types.State) (*types.Action, error) {
	if action := pickWeighted(a.options.rand, state, a.options.filter); action != nil {
		return action, nil
	}
	if action := pickValid(a.options.rand, state); action != nil {
		xlog.Debug("No action passed the filter, picked a valid one", "state", state.ID)
		return action, nil
	}
	xlog.Error("Handle null action error", "state", state.ID)
	return nil, fmt.Errorf("%w: state %d", ErrNoAction, state.ID)
}

func (a *Agent) dumpGraph() {
	if a.options.outputDir == "" {
		return
	}
	path := filepath.Join(a.options.outputDir, GraphDumpFile)
	if err := a.index.DumpFile(path); err != nil {
		xlog.Warn("Failed to save the merge graph", "path", path, "error", err)
	}
}

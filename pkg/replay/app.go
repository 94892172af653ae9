package replay

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mudler/LocalExplorer/core/types"
)

const (
	// RestartActionID identifies the restart action of replayed paths.
	RestartActionID = -1

	defaultMaxPaths = 3
	defaultMaxDepth = 12
	// enumeration stops after this many candidate paths
	maxCandidates = 64
)

var ErrUnknownAction = errors.New("action is not available on the current screen")

type transition struct {
	action *types.Action
	to     int
}

// App plays a trace back as the application under test. It records every
// transition it goes through, which makes it the raw state graph navigation
// paths are searched in.
type App struct {
	mu sync.Mutex

	start   int
	current int
	states  map[int]*types.State
	next    map[[2]int]int

	performed map[[2]int]struct{}
	total     int
	observed  map[int][]transition

	maxPaths int
	maxDepth int
}

func NewApp(t *Trace) (*App, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	app := &App{
		start:     t.Start,
		current:   t.Start,
		states:    map[int]*types.State{},
		next:      map[[2]int]int{},
		performed: map[[2]int]struct{}{},
		observed:  map[int][]transition{},
		maxPaths:  defaultMaxPaths,
		maxDepth:  defaultMaxDepth,
	}
	for _, s := range t.Screens {
		actions := make([]*types.Action, 0, len(s.Actions))
		for _, a := range s.Actions {
			typ, _ := types.ParseActionType(a.Type)
			actions = append(actions, types.NewAction(a.ID, typ, a.Element, a.Target))
			app.next[[2]int{s.ID, a.ID}] = a.Next
			if !typ.IsRestart() {
				app.total++
			}
		}
		app.states[s.ID] = types.NewState(s.ID, s.Activity, s.Description, actions...)
	}
	return app, nil
}

// RestartAction relaunches the app from its start screen.
func RestartAction() *types.Action {
	return types.NewAction(RestartActionID, types.ActionRestart, -1, "")
}

func (a *App) Current() *types.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[a.current]
}

// Perform executes action on the current screen and returns the screen the
// app lands on.
func (a *App) Perform(action *types.Action) (*types.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.current
	if action.Type.IsRestart() {
		a.current = a.start
		return a.states[a.current], nil
	}

	key := [2]int{from, action.ID}
	to, ok := a.next[key]
	if !ok {
		return nil, fmt.Errorf("%w: action %d on screen %d", ErrUnknownAction, action.ID, from)
	}
	a.performed[key] = struct{}{}
	if to != Stay {
		a.current = to
	}
	if a.current != from {
		a.observe(from, action, a.current)
	}
	return a.states[a.current], nil
}

// observe records a transition once. The caller holds mu.
func (a *App) observe(from int, action *types.Action, to int) {
	for _, t := range a.observed[from] {
		if t.action.ID == action.ID {
			return
		}
	}
	a.observed[from] = append(a.observed[from], transition{action: action, to: to})
}

// Coverage is the fraction of the trace's non restart actions performed at
// least once.
func (a *App) Coverage() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.total == 0 {
		return 0, nil
	}
	return float64(len(a.performed)) / float64(a.total), nil
}

// FindPaths returns the shortest observed paths from a fresh start of the
// app to target, shortest first.
func (a *App) FindPaths(target int) []types.Path {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.states[target]; !ok {
		return nil
	}

	var found [][]types.Step
	visited := map[int]bool{a.start: true}
	var walk func(at int, trail []types.Step)
	walk = func(at int, trail []types.Step) {
		if len(found) >= maxCandidates {
			return
		}
		if at == target {
			found = append(found, slices.Clone(trail))
			return
		}
		if len(trail) >= a.maxDepth {
			return
		}
		for _, t := range a.observed[at] {
			if visited[t.to] {
				continue
			}
			visited[t.to] = true
			walk(t.to, append(trail, types.Step{Target: t.to, Action: t.action}))
			visited[t.to] = false
		}
	}
	walk(a.start, nil)

	slices.SortStableFunc(found, func(x, y []types.Step) int {
		return len(x) - len(y)
	})
	if len(found) > a.maxPaths {
		found = found[:a.maxPaths]
	}

	paths := make([]types.Path, 0, len(found))
	for _, steps := range found {
		p := types.Path{Steps: []types.Step{{Target: a.start, Action: RestartAction()}}}
		for _, s := range steps {
			p.Steps = append(p.Steps, types.Step{Target: s.Target, Action: s.Action.Clone()})
		}
		paths = append(paths, p)
	}
	return paths
}

package replay

import (
	"context"
	"errors"

	"github.com/mudler/LocalExplorer/core/navigation"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/xlog"
)

// Stepper chooses the action to perform on a state.
type Stepper interface {
	Step(state *types.State) (*types.Action, error)
}

type Record struct {
	Step     int     `json:"step"`
	State    int     `json:"state"`
	Action   string  `json:"action"`
	Coverage float64 `json:"coverage"`
}

// Run drives the app with the actions s picks for at most steps steps. A
// navigation that went off its path restarts the app; any other error stops
// the replay.
func Run(ctx context.Context, s Stepper, app *App, steps int) ([]Record, error) {
	var records []Record
	state := app.Current()
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		action, err := s.Step(state)
		switch {
		case errors.Is(err, navigation.ErrInvariant):
			xlog.Warn("Navigation left its path, restarting the app", "state", state.ID, "error", err)
			action = RestartAction()
		case err != nil:
			return records, err
		}

		next, err := app.Perform(action)
		if err != nil {
			return records, err
		}
		coverage, _ := app.Coverage()
		records = append(records, Record{Step: i, State: state.ID, Action: action.String(), Coverage: coverage})
		xlog.Debug("Replayed step", "step", i, "state", state.ID, "action", action.String(), "next", next.ID, "coverage", coverage)
		state = next
	}
	return records, nil
}

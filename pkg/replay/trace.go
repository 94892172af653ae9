package replay

import (
	"errors"
	"fmt"
	"os"

	"github.com/mudler/LocalExplorer/core/types"
	"gopkg.in/yaml.v3"
)

// Stay marks an action that leaves the app on the same screen.
const Stay = -1

var ErrEmptyTrace = errors.New("trace has no screens")

// Trace is a recorded model of an app: its screens and where every action on
// them leads. Restart actions always lead back to Start.
type Trace struct {
	Start   int      `yaml:"start" json:"start"`
	Screens []Screen `yaml:"screens" json:"screens"`
}

type Screen struct {
	ID          int           `yaml:"id" json:"id"`
	Activity    string        `yaml:"activity" json:"activity"`
	Description string        `yaml:"description" json:"description"`
	Actions     []TraceAction `yaml:"actions" json:"actions"`
}

type TraceAction struct {
	ID      int    `yaml:"id" json:"id"`
	Type    string `yaml:"type" json:"type"`
	Element int    `yaml:"element" json:"element"`
	Target  string `yaml:"target" json:"target"`
	Next    int    `yaml:"next" json:"next"`
}

// LoadTrace reads a trace file. JSON traces load as well.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't open trace %s: %w", path, err)
	}
	return ParseTrace(data)
}

func ParseTrace(data []byte) (*Trace, error) {
	t := &Trace{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that screen ids are unique and every transition lands on a
// known screen.
func (t *Trace) Validate() error {
	if len(t.Screens) == 0 {
		return ErrEmptyTrace
	}
	known := map[int]bool{}
	for _, s := range t.Screens {
		if known[s.ID] {
			return fmt.Errorf("duplicate screen %d", s.ID)
		}
		known[s.ID] = true
	}
	if !known[t.Start] {
		return fmt.Errorf("start screen %d is not in the trace", t.Start)
	}
	for _, s := range t.Screens {
		for _, a := range s.Actions {
			if _, err := types.ParseActionType(a.Type); err != nil {
				return fmt.Errorf("screen %d action %d: %w", s.ID, a.ID, err)
			}
			if a.Next != Stay && !known[a.Next] {
				return fmt.Errorf("screen %d action %d leads to unknown screen %d", s.ID, a.ID, a.Next)
			}
		}
	}
	return nil
}

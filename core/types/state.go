package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mudler/LocalExplorer/pkg/xstrings"
)

// NoCluster marks a state that has not been classified yet.
const NoCluster = -1

// DefaultSaturation is the number of visits after which a target action no
// longer earns the unsaturated bonus.
const DefaultSaturation = 3

// State is one observed screen of the application under test.
type State struct {
	ID          int       `json:"id"`
	Activity    string    `json:"activity"`
	Description string    `json:"description"`
	Actions     []*Action `json:"actions"`
	Priority    int       `json:"priority"`

	// Saturation overrides DefaultSaturation when positive.
	Saturation int `json:"saturation,omitempty"`

	cluster int
}

func NewState(id int, activity, description string, actions ...*Action) *State {
	return &State{
		ID:          id,
		Activity:    activity,
		Description: description,
		Actions:     actions,
		cluster:     NoCluster,
	}
}

// Cluster returns the id of the merged cluster the state belongs to, or
// NoCluster.
func (s *State) Cluster() int {
	return s.cluster
}

// SetCluster records the owning cluster. The back-reference can be set only
// once.
func (s *State) SetCluster(id int) error {
	if s.cluster != NoCluster && s.cluster != id {
		return fmt.Errorf("state %d already belongs to cluster %d", s.ID, s.cluster)
	}
	s.cluster = id
	return nil
}

// IsSaturated reports whether the state has been explored enough through a.
func (s *State) IsSaturated(a *Action) bool {
	limit := s.Saturation
	if limit <= 0 {
		limit = DefaultSaturation
	}
	return a.VisitCount >= limit
}

// FindSimilarAction returns the valid action of this state that does the same
// thing as a, or nil.
func (s *State) FindSimilarAction(a *Action) *Action {
	if a == nil {
		return nil
	}
	for _, candidate := range s.Actions {
		if candidate.Valid && candidate.SameAs(a) {
			return candidate
		}
	}
	return nil
}

// FindAction returns the action of type t bound to widget elementID.
func (s *State) FindAction(elementID int, t ActionType) *Action {
	for _, a := range s.Actions {
		if a.ElementID == elementID && a.Type == t {
			return a
		}
	}
	return nil
}

// WidgetText returns the last tab separated cell of the description line that
// renders widget elementID, or "" if no line does.
func (s *State) WidgetText(elementID int) string {
	line := s.widgetLine(elementID)
	if line == "" {
		return ""
	}
	cells := strings.Split(line, "\t")
	return strings.TrimSpace(cells[len(cells)-1])
}

func (s *State) widgetLine(elementID int) string {
	token := "id=" + strconv.Itoa(elementID)
	for _, line := range strings.Split(s.Description, "\n") {
		idx := strings.Index(line, token)
		for idx >= 0 {
			end := idx + len(token)
			if end == len(line) || line[end] < '0' || line[end] > '9' {
				return line
			}
			next := strings.Index(line[end:], token)
			if next < 0 {
				break
			}
			idx = end + next
		}
	}
	return ""
}

// DiffLines returns the description lines of s that do not appear in the
// description of other, in order.
func (s *State) DiffLines(other *State) []string {
	seen := map[string]struct{}{}
	if other != nil {
		for _, l := range xstrings.Lines(other.Description) {
			seen[l] = struct{}{}
		}
	}
	var diff []string
	for _, l := range xstrings.Lines(s.Description) {
		if _, ok := seen[l]; !ok {
			diff = append(diff, l)
		}
	}
	return diff
}

// SimilarityFunc scores two concrete states in [0,1].
type SimilarityFunc func(a, b *State) float64

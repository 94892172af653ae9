package types

import (
	"fmt"
	"strings"
)

type ActionType int

const (
	ActionNop ActionType = iota
	ActionStart
	ActionRestart
	ActionCleanRestart
	ActionBack
	ActionFeed
	ActionClick
	ActionLongClick
	ActionScrollTopDown
	ActionScrollBottomUp
	ActionScrollLeftRight
	ActionScrollRightLeft
)

// replyInputType is the action type number the reasoning service uses for
// "type text into the widget". Text input is delivered as a click carrying
// InputText.
const replyInputType = 6

var actionTypeNames = map[ActionType]string{
	ActionNop:             "nop",
	ActionStart:           "start",
	ActionRestart:         "restart",
	ActionCleanRestart:    "clean_restart",
	ActionBack:            "back",
	ActionFeed:            "feed",
	ActionClick:           "click",
	ActionLongClick:       "long_click",
	ActionScrollTopDown:   "scroll_top_down",
	ActionScrollBottomUp:  "scroll_bottom_up",
	ActionScrollLeftRight: "scroll_left_right",
	ActionScrollRightLeft: "scroll_right_left",
}

func (t ActionType) String() string {
	if n, ok := actionTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(t))
}

// ParseActionType is the inverse of ActionType.String.
func ParseActionType(name string) (ActionType, error) {
	for t, n := range actionTypeNames {
		if n == name {
			return t, nil
		}
	}
	return ActionNop, fmt.Errorf("unknown action type %q", name)
}

// ActionTypeFromReply converts the 0-based "Action Type" number of a
// reasoning-service reply into an ActionType.
func ActionTypeFromReply(n int) (ActionType, error) {
	if n == replyInputType {
		return ActionClick, nil
	}
	t := ActionClick + ActionType(n)
	if n < 0 || t > ActionScrollRightLeft {
		return ActionNop, fmt.Errorf("unknown action type %d", n)
	}
	return t, nil
}

// RequireTarget reports whether the action operates on a widget.
func (t ActionType) RequireTarget() bool {
	return t >= ActionClick
}

// IsRestart reports whether the action (re)launches the application.
func (t ActionType) IsRestart() bool {
	return t == ActionStart || t == ActionRestart || t == ActionCleanRestart
}

// BasePriority is the starting weight of an action of this type before the
// priority pass adjusts it.
func (t ActionType) BasePriority() int {
	switch t {
	case ActionClick:
		return 4
	case ActionLongClick, ActionScrollTopDown, ActionScrollBottomUp, ActionScrollLeftRight, ActionScrollRightLeft:
		return 2
	case ActionNop:
		return 0
	default:
		return 1
	}
}

// Action is a UI operation available on a concrete state.
type Action struct {
	ID   int        `json:"id"`
	Type ActionType `json:"type"`
	// ElementID is the widget number rendered as "id=N" in the owning state's
	// description, or -1 when the action has no widget.
	ElementID  int    `json:"element_id"`
	Target     string `json:"target,omitempty"`
	Priority   int    `json:"priority"`
	Visited    bool   `json:"visited"`
	VisitCount int    `json:"visit_count"`
	Valid      bool   `json:"valid"`
	InputText  string `json:"input_text,omitempty"`
}

func NewAction(id int, t ActionType, elementID int, target string) *Action {
	return &Action{
		ID:        id,
		Type:      t,
		ElementID: elementID,
		Target:    target,
		Priority:  t.BasePriority(),
		Valid:     true,
	}
}

func (a *Action) RequireTarget() bool {
	return a.Type.RequireTarget()
}

func (a *Action) BasePriority() int {
	return a.Type.BasePriority()
}

// Clone returns a copy that can be rewritten without touching the original.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// SameAs reports whether two actions do the same thing, possibly on
// different concrete states.
func (a *Action) SameAs(o *Action) bool {
	if a == nil || o == nil {
		return false
	}
	return a.Type == o.Type && a.Target == o.Target
}

func (a *Action) String() string {
	if a == nil {
		return "<none>"
	}
	return a.Describe(a.Target)
}

// Describe renders the action for prompts, using widget as the human
// readable widget text.
func (a *Action) Describe(widget string) string {
	var sb strings.Builder
	sb.WriteString(a.Type.String())
	if widget = strings.TrimSpace(widget); widget != "" {
		sb.WriteString(" ")
		sb.WriteString(widget)
	}
	if a.InputText != "" {
		fmt.Fprintf(&sb, " input=%q", a.InputText)
	}
	return sb.String()
}

// ActionFilter decides whether an action may be selected.
type ActionFilter func(*Action) bool

// ValidPriorityFilter accepts valid actions with a positive priority.
func ValidPriorityFilter(a *Action) bool {
	return a != nil && a.Valid && a.Priority > 0
}

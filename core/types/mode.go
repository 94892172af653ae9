package types

// Mode is the decision mode of the controller.
type Mode int

const (
	// ModeExplore picks actions by priority until coverage stagnates.
	ModeExplore Mode = iota
	// ModeNavigate follows a path toward the guide target.
	ModeNavigate
	// ModeTestFunction performs the actions chosen by the reasoning service.
	ModeTestFunction
)

func (m Mode) String() string {
	switch m {
	case ModeExplore:
		return "EXPLORE"
	case ModeNavigate:
		return "NAVIGATE"
	case ModeTestFunction:
		return "TEST_FUNCTION"
	}
	return "UNKNOWN"
}

package types

// Observable is one decision of the controller, as reported to observers.
type Observable struct {
	ID       int32   `json:"id"`
	State    int     `json:"state"`
	Cluster  int     `json:"cluster"`
	Mode     string  `json:"mode"`
	Action   string  `json:"action,omitempty"`
	Function string  `json:"function,omitempty"`
	Coverage float64 `json:"coverage"`
	Error    string  `json:"error,omitempty"`
}

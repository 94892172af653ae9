package types

import "slices"

// Function is a testable app capability exposed by a cluster, together with
// the concrete state that shows it.
type Function struct {
	Name  string `json:"name"`
	State int    `json:"state"`
}

// Cluster is a set of concrete states judged similar enough to share one
// overview and one function list. The root never changes and membership only
// grows.
type Cluster struct {
	ID              int
	Root            int
	Members         []int
	Overview        string
	Functions       []Function
	Completed       map[string]struct{}
	NeedsReanalysis bool
}

func NewCluster(id, root int) *Cluster {
	return &Cluster{
		ID:        id,
		Root:      root,
		Members:   []int{root},
		Completed: map[string]struct{}{},
	}
}

func (c *Cluster) HasMember(stateID int) bool {
	return slices.Contains(c.Members, stateID)
}

// AddMember appends stateID unless it is already a member.
func (c *Cluster) AddMember(stateID int) bool {
	if c.HasMember(stateID) {
		return false
	}
	c.Members = append(c.Members, stateID)
	return true
}

// AddFunction registers a function, keeping the first state seen for a name.
func (c *Cluster) AddFunction(name string, stateID int) {
	if name == "" {
		return
	}
	for _, f := range c.Functions {
		if f.Name == name {
			return
		}
	}
	c.Functions = append(c.Functions, Function{Name: name, State: stateID})
}

func (c *Cluster) Complete(function string) {
	if function == "" {
		return
	}
	c.Completed[function] = struct{}{}
}

func (c *Cluster) Tested(function string) bool {
	_, ok := c.Completed[function]
	return ok
}

func (c *Cluster) UntestedFunctions() []string {
	var out []string
	for _, f := range c.Functions {
		if !c.Tested(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

func (c *Cluster) HasUntestedFunctions() bool {
	return len(c.UntestedFunctions()) > 0
}

// TargetState returns the concrete state that exposes function, falling back
// to the root.
func (c *Cluster) TargetState(function string) int {
	for _, f := range c.Functions {
		if f.Name == function {
			return f.State
		}
	}
	return c.Root
}

// Clone returns a deep copy safe to read outside the owning lock.
func (c *Cluster) Clone() Cluster {
	out := *c
	out.Members = slices.Clone(c.Members)
	out.Functions = slices.Clone(c.Functions)
	out.Completed = make(map[string]struct{}, len(c.Completed))
	for k := range c.Completed {
		out.Completed[k] = struct{}{}
	}
	return out
}

package types

// Step is one hop of a navigation path: perform Action and expect to land on
// the concrete state Target.
type Step struct {
	Target int     `json:"target"`
	Action *Action `json:"action"`
}

// Path is consumed front to back.
type Path struct {
	Steps []Step `json:"steps"`
}

func (p *Path) Empty() bool {
	return p == nil || len(p.Steps) == 0
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// Front returns the next step, or nil when the path is exhausted. The step
// can be rewritten in place.
func (p *Path) Front() *Step {
	if p.Empty() {
		return nil
	}
	return &p.Steps[0]
}

func (p *Path) Pop() Step {
	s := p.Steps[0]
	p.Steps = p.Steps[1:]
	return s
}

// Clone copies the steps so the original path can be retried later.
func (p Path) Clone() Path {
	steps := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = Step{Target: s.Target, Action: s.Action.Clone()}
	}
	return Path{Steps: steps}
}

// PathFinder searches the raw state graph for candidate paths leading to the
// concrete state target, best first.
type PathFinder interface {
	FindPaths(target int) []Path
}

type PathFinderFunc func(target int) []Path

func (f PathFinderFunc) FindPaths(target int) []Path {
	return f(target)
}

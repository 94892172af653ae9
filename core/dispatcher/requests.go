package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/xstrings"
	"github.com/mudler/xlog"
	"github.com/tidwall/gjson"
)

// Kind identifies the question a request asks.
type Kind int

const (
	KindStateOverview Kind = iota
	KindGuide
	KindTestFunction
	KindReanalysis
)

func (k Kind) String() string {
	switch k {
	case KindStateOverview:
		return "STATE_OVERVIEW"
	case KindGuide:
		return "GUIDE"
	case KindTestFunction:
		return "TEST_FUNCTION"
	case KindReanalysis:
		return "REANALYSIS"
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

func (k Kind) highPriority() bool {
	return k != KindReanalysis
}

// request is implemented by exactly one handler per Kind.
type request interface {
	kind() Kind
	handle(ctx context.Context, d *Dispatcher, env *Envelope) error
	// fail resolves the request's result, if any, with err.
	fail(err error)
}

var (
	_ request = (*overviewRequest)(nil)
	_ request = (*guideRequest)(nil)
	_ request = (*testRequest)(nil)
	_ request = (*reanalysisRequest)(nil)
)

type overviewRequest struct {
	cluster int
}

func (r *overviewRequest) kind() Kind { return KindStateOverview }
func (r *overviewRequest) fail(error) {}

func (r *overviewRequest) handle(ctx context.Context, d *Dispatcher, env *Envelope) error {
	c, ok := d.index.Cluster(r.cluster)
	if !ok {
		return fmt.Errorf("unknown cluster %d", r.cluster)
	}
	root := d.index.State(c.Root)
	if root == nil {
		return fmt.Errorf("cluster %d has no root state %d", c.ID, c.Root)
	}

	d.mu.Lock()
	ranked := len(d.ranking) >= d.opts.rankingHead
	var others []clusterSummary
	if ranked {
		others = d.summariesLocked(d.opts.rankingHead, false)
	}
	d.mu.Unlock()

	prompt, err := templateExecute(overviewTemplate, overviewData{
		Start:       d.opts.startPrompt,
		Description: root.Description,
		Limit:       d.opts.descriptionLimit,
		Ranked:      ranked,
		Current:     c.ID,
		Others:      others,
	})
	if err != nil {
		return err
	}

	reply, err := d.ask(ctx, env, prompt)
	if err != nil {
		return err
	}

	overview := reply.Get("Overview").String()
	functions := parseStrings(firstOf(reply, "Function List", "Functions"))
	d.index.Update(c.ID, func(c *types.Cluster) {
		c.Overview = overview
		for _, f := range functions {
			c.AddFunction(f, c.Root)
		}
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	if !ranked {
		d.ranking = append(d.ranking, c.ID)
		return nil
	}
	top := firstOf(reply, "Top5", "Top 5")
	if !top.Exists() {
		xlog.Warn("Reply has no ranking, keeping the previous one", "cluster", c.ID)
		return nil
	}
	d.ranking = rerank(d.ranking, parseStateRefs(top), d.opts.rankingHead, func(id int) bool {
		_, ok := d.index.Cluster(id)
		return ok
	})
	xlog.Debug("Ranking updated", "ranking", d.ranking)
	return nil
}

// rerank replaces the first head slots of ranking with top, in order, and
// re-inserts the displaced clusters right after them. Unknown ids in top are
// ignored and no cluster appears twice.
func rerank(ranking, top []int, head int, exists func(int) bool) []int {
	head = min(head, len(ranking))
	original := slices.Clone(ranking[:head])

	out := slices.Clone(ranking)
	slot := 0
	for _, id := range top {
		if slot >= head {
			break
		}
		if !exists(id) || slices.Contains(out[:slot], id) {
			continue
		}
		out[slot] = id
		slot++
	}

	var displaced []int
	for _, id := range original {
		if !slices.Contains(top[:min(len(top), head)], id) {
			displaced = append(displaced, id)
		}
	}
	return xstrings.Unique(slices.Insert(out, head, displaced...))
}

// summariesLocked describes up to n ranked clusters. Unless includeTested is
// set, only clusters with untested functions are shown. The caller holds mu.
func (d *Dispatcher) summariesLocked(n int, includeTested bool) []clusterSummary {
	out := []clusterSummary{}
	for _, id := range d.ranking {
		if len(out) >= n {
			break
		}
		c, ok := d.index.Cluster(id)
		if !ok {
			continue
		}
		functions := c.UntestedFunctions()
		if includeTested {
			functions = nil
			for _, f := range c.Functions {
				functions = append(functions, f.Name)
			}
		} else if len(functions) == 0 {
			continue
		}
		out = append(out, clusterSummary{
			State:     fmt.Sprintf("State%d", c.ID),
			Overview:  c.Overview,
			Functions: functions[:min(len(functions), DefaultRankingHead)],
		})
	}
	return out
}

type guideRequest struct {
	result *Future[Guide]
}

func (r *guideRequest) kind() Kind { return KindGuide }
func (r *guideRequest) fail(err error) { r.result.fail(err) }

func (r *guideRequest) handle(ctx context.Context, d *Dispatcher, env *Envelope) error {
	d.mu.Lock()
	clusters := d.summariesLocked(d.opts.topK, false)
	if len(clusters) == 0 {
		clusters = d.summariesLocked(d.opts.topK, true)
	}
	tested := slices.Clone(d.tested)
	d.mu.Unlock()

	prompt, err := templateExecute(guideTemplate, guideData{
		Start:    d.opts.startPrompt,
		Clusters: clusters,
		Tested:   tested,
	})
	if err != nil {
		return err
	}

	reply, err := d.ask(ctx, env, prompt)
	if err != nil {
		return err
	}

	g := Guide{Cluster: types.NoCluster, State: -1, Function: reply.Get("Target Function").String()}
	if id, ok := parseStateRef(reply.Get("Target State")); ok {
		g.Cluster = id
		if c, ok := d.index.Cluster(id); ok {
			g.State = c.TargetState(g.Function)
		}
	}
	if g.State < 0 {
		xlog.Warn("Guide target is not a known cluster", "target", reply.Get("Target State").String(), "function", g.Function)
	}

	d.mu.Lock()
	d.target = g
	d.mu.Unlock()

	xlog.Info("Guide target chosen", "cluster", g.Cluster, "function", g.Function, "state", g.State)
	r.result.resolve(g, nil)
	return nil
}

type testRequest struct {
	state  *types.State
	result *Future[*types.Action]
}

func (r *testRequest) kind() Kind { return KindTestFunction }
func (r *testRequest) fail(err error) { r.result.fail(err) }

func (r *testRequest) handle(ctx context.Context, d *Dispatcher, env *Envelope) error {
	d.mu.Lock()
	function := d.target.Function
	executed := slices.Clone(d.executed)
	d.mu.Unlock()

	prompt, err := templateExecute(testTemplate, testData{
		Start:       d.opts.startPrompt,
		Description: r.state.Description,
		Function:    function,
		Executed:    executed,
	})
	if err != nil {
		return err
	}

	reply, err := d.ask(ctx, env, prompt)
	if err != nil {
		return err
	}

	elementID := -1
	if v := reply.Get("Element Id"); v.Exists() {
		elementID = int(v.Int())
	}
	if elementID == -1 {
		xlog.Info("No further action for function", "function", function)
		r.result.resolve(nil, nil)
		return nil
	}

	t, err := types.ActionTypeFromReply(int(reply.Get("Action Type").Int()))
	if err != nil {
		xlog.Warn("Reply names an unusable action", "error", err)
		r.result.resolve(nil, nil)
		return nil
	}

	a := r.state.FindAction(elementID, t)
	if a == nil {
		xlog.Info("Reply names no action of this state, function is finished or untestable", "function", function, "element", elementID, "type", t.String())
		r.result.resolve(nil, nil)
		return nil
	}
	// The state belongs to the controller, the input goes on a copy.
	a = a.Clone()
	if input := reply.Get("Input"); input.Exists() && input.String() != "" {
		a.InputText = input.String()
	}

	// A controller that stopped waiting has already closed the round, so the
	// action must not leak into the next round's log.
	d.mu.Lock()
	late := r.result.Abandoned()
	if !late {
		d.executed = append(d.executed, a.Describe(r.state.WidgetText(elementID)))
	}
	d.mu.Unlock()
	if late {
		xlog.Warn("Discarding test action of an abandoned round", "function", function, "action", a.String())
	}

	r.result.resolve(a, nil)
	return nil
}

type reanalysisRequest struct {
	cluster int
}

func (r *reanalysisRequest) kind() Kind { return KindReanalysis }
func (r *reanalysisRequest) fail(error) {}

func (r *reanalysisRequest) handle(ctx context.Context, d *Dispatcher, env *Envelope) error {
	c, ok := d.index.Cluster(r.cluster)
	if !ok {
		return fmt.Errorf("unknown cluster %d", r.cluster)
	}
	root := d.index.State(c.Root)

	// Number every new line once, remembering the member that showed it.
	var widgets []numberedWidget
	owner := map[int]int{}
	seen := map[string]struct{}{}
	for _, m := range c.Members {
		if m == c.Root {
			continue
		}
		s := d.index.State(m)
		if s == nil {
			continue
		}
		for _, line := range s.DiffLines(root) {
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			id := len(widgets) + 1
			widgets = append(widgets, numberedWidget{ID: id, Line: line})
			owner[id] = m
		}
	}

	clearFlag := func(c *types.Cluster) { c.NeedsReanalysis = false }
	if len(widgets) == 0 {
		xlog.Debug("Members match the root, nothing to reanalyse", "cluster", c.ID)
		d.index.Update(c.ID, clearFlag)
		return nil
	}

	var names []string
	for _, f := range c.Functions {
		names = append(names, f.Name)
	}
	prompt, err := templateExecute(reanalysisTemplate, reanalysisData{
		Start:   d.opts.startPrompt,
		Cluster: clusterSummary{State: fmt.Sprintf("State%d", c.ID), Overview: c.Overview, Functions: names},
		Widgets: widgets,
	})
	if err != nil {
		return err
	}

	reply, err := d.ask(ctx, env, prompt)
	if err != nil {
		return err
	}

	overview := reply.Get("Overview").String()
	type found struct {
		name  string
		state int
	}
	var functions []found
	reply.Get("Functions").ForEach(func(key, value gjson.Result) bool {
		name := strings.TrimSpace(key.String())
		state := c.Root
		for _, w := range value.Array() {
			if s, ok := owner[int(w.Int())]; ok {
				state = s
				break
			}
		}
		functions = append(functions, found{name: name, state: state})
		return true
	})

	d.index.Update(c.ID, func(c *types.Cluster) {
		if overview != "" {
			c.Overview = overview
		}
		for _, f := range functions {
			c.AddFunction(f.name, f.state)
		}
		clearFlag(c)
	})
	xlog.Info("Cluster reanalysed", "cluster", c.ID, "new_functions", len(functions))
	return nil
}

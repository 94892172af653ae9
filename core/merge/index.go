package merge

import (
	"sync"

	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/xlog"
)

const DefaultThreshold = 0.8

// NoAction labels transitions whose triggering action is unknown, such as the
// very first observed state.
const NoAction = -1

// Edge is a transition between two clusters caused by an action performed on
// the concrete state From was left from.
type Edge struct {
	From   int `json:"from"`
	To     int `json:"to"`
	Action int `json:"action"`
	State  int `json:"state"`
}

// Classification is the outcome of Classify.
type Classification struct {
	Cluster int
	Created bool
	// Previous is the cursor before the state was processed, or
	// types.NoCluster for the first state.
	Previous int
}

// Index clusters concrete states by similarity to cluster roots. States and
// clusters are kept in arenas keyed by id; relations are stored as ids.
//
// All methods are safe for concurrent use: the controller classifies states
// while the reasoning worker writes overviews and function lists.
type Index struct {
	mu sync.RWMutex

	similarity types.SimilarityFunc
	threshold  float64

	states   map[int]*types.State
	clusters []*types.Cluster
	edges    []Edge
	cursor   int
}

func NewIndex(similarity types.SimilarityFunc, threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Index{
		similarity: similarity,
		threshold:  threshold,
		states:     map[int]*types.State{},
		cursor:     types.NoCluster,
	}
}

// Classify assigns state to a cluster, records the transition from the
// current cluster, and moves the cursor. action is the action that led to the
// state, or nil.
func (ix *Index) Classify(state *types.State, action *types.Action) Classification {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev := ix.cursor
	res := Classification{Previous: prev}

	if _, known := ix.states[state.ID]; !known {
		ix.states[state.ID] = state
	}

	id, found := ix.mostSimilar(state)
	if !found {
		c := types.NewCluster(len(ix.clusters), state.ID)
		ix.clusters = append(ix.clusters, c)
		id = c.ID
		res.Created = true
		xlog.Info("New merged cluster", "state", state.ID, "cluster", id)
	}
	if err := state.SetCluster(id); err != nil {
		xlog.Error("Cluster back-reference mismatch", "error", err)
	}

	c := ix.clusters[id]
	if !res.Created && c.AddMember(state.ID) {
		if len(state.DiffLines(ix.states[c.Root])) > 0 {
			c.NeedsReanalysis = true
		}
	}

	actionID := NoAction
	if action != nil {
		actionID = action.ID
	}
	if prev != types.NoCluster {
		ix.edges = append(ix.edges, Edge{From: prev, To: id, Action: actionID, State: state.ID})
		if prev == id {
			xlog.Debug("State stays in current cluster", "state", state.ID, "cluster", id)
		} else {
			xlog.Debug("State moves to another cluster", "state", state.ID, "from", prev, "to", id)
		}
	}

	ix.cursor = id
	res.Cluster = id
	return res
}

// mostSimilar finds the cluster state should join. The caller holds mu.
func (ix *Index) mostSimilar(state *types.State) (int, bool) {
	if id := state.Cluster(); id != types.NoCluster {
		return id, true
	}
	if ix.cursor == types.NoCluster {
		return types.NoCluster, false
	}

	current := ix.clusters[ix.cursor]
	if ix.similarity(ix.states[current.Root], state) >= ix.threshold {
		return current.ID, true
	}

	best, bestScore := types.NoCluster, 0.0
	for _, c := range ix.clusters {
		score := ix.similarity(ix.states[c.Root], state)
		if score >= ix.threshold && score > bestScore {
			best, bestScore = c.ID, score
		}
	}
	return best, best != types.NoCluster
}

// Current returns the cluster of the most recently classified state.
func (ix *Index) Current() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cursor
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.clusters)
}

// State returns a classified concrete state by id.
func (ix *Index) State(id int) *types.State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.states[id]
}

// Cluster returns a copy of the cluster with the given id.
func (ix *Index) Cluster(id int) (types.Cluster, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if id < 0 || id >= len(ix.clusters) {
		return types.Cluster{}, false
	}
	return ix.clusters[id].Clone(), true
}

// Clusters returns copies of every cluster in creation order.
func (ix *Index) Clusters() []types.Cluster {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]types.Cluster, len(ix.clusters))
	for i, c := range ix.clusters {
		out[i] = c.Clone()
	}
	return out
}

// Update runs fn on the cluster under the index lock.
func (ix *Index) Update(id int, fn func(*types.Cluster)) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if id < 0 || id >= len(ix.clusters) {
		return false
	}
	fn(ix.clusters[id])
	return true
}

// Edges returns the recorded transitions, in order.
func (ix *Index) Edges() []Edge {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]Edge(nil), ix.edges...)
}

// NeedingReanalysis returns the ids of clusters flagged for reanalysis.
func (ix *Index) NeedingReanalysis() []int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var ids []int
	for _, c := range ix.clusters {
		if c.NeedsReanalysis {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

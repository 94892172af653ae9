package agent

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/xlog"
)

const DefaultHistorySize = 100

type Observer interface {
	NewObservable() *types.Observable
	Update(types.Observable)
	History() []types.Observable
}

// HistoryObserver keeps the most recent decisions in a ring buffer.
type HistoryObserver struct {
	maxID int32

	mutex       sync.Mutex
	history     []types.Observable
	historyLast int
}

func NewHistoryObserver(size int) *HistoryObserver {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &HistoryObserver{
		maxID:   1,
		history: make([]types.Observable, size),
	}
}

func (h *HistoryObserver) NewObservable() *types.Observable {
	id := atomic.AddInt32(&h.maxID, 1)
	return &types.Observable{ID: id - 1}
}

func (h *HistoryObserver) Update(obs types.Observable) {
	xlog.Debug("Decision observed", "id", obs.ID, "state", obs.State, "mode", obs.Mode, "action", obs.Action)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i, o := range h.history {
		if o.ID == obs.ID {
			h.history[i] = obs
			return
		}
	}

	h.history[h.historyLast] = obs
	h.historyLast++
	if h.historyLast >= len(h.history) {
		h.historyLast = 0
	}
}

// History returns the kept decisions, oldest first.
func (h *HistoryObserver) History() []types.Observable {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	out := make([]types.Observable, 0, len(h.history))
	for _, obs := range h.history {
		if obs.ID == 0 {
			continue
		}
		out = append(out, obs)
	}
	slices.SortFunc(out, func(a, b types.Observable) int {
		return int(a.ID - b.ID)
	})
	return out
}

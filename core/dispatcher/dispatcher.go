package dispatcher

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/LocalExplorer/core/conversations"
	"github.com/mudler/LocalExplorer/core/merge"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/llm"
	"github.com/mudler/xlog"
)

var (
	ErrTransportExhausted = errors.New("reasoning service unreachable after all retries")
	ErrMalformedReply     = errors.New("reasoning service kept answering without a JSON object")
	ErrResultTimeout      = errors.New("timed out waiting for the reasoning result")
	ErrStopped            = errors.New("dispatcher stopped")
)

// Envelope is a queued request.
type Envelope struct {
	ID       uuid.UUID
	Kind     Kind
	Cluster  int
	State    int
	Enqueued time.Time

	req request
}

// Guide is the navigation target chosen by the reasoning service.
type Guide struct {
	Cluster  int
	Function string
	// State is the concrete state exposing Function, or -1 if the
	// service named an unknown cluster.
	State int
}

// Dispatcher serializes requests to the reasoning service on one background
// worker. Requests in the high queue are always served before the low queue.
type Dispatcher struct {
	opts   *options
	client llm.LLMClient
	index  *merge.Index
	window *conversations.Window

	// mu guards the queues and the exploration bookkeeping shared with the
	// controller.
	mu       sync.Mutex
	high     []*Envelope
	low      []*Envelope
	stopped  bool
	ranking  []int
	tested   []string
	executed []string
	target   Guide

	wake chan struct{}

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(index *merge.Index, client llm.LLMClient, opts ...Option) (*Dispatcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	idle := make(chan struct{})
	close(idle)

	return &Dispatcher{
		opts:   o,
		client: client,
		index:  index,
		window: conversations.NewWindow(o.conversationCap),
		wake:   make(chan struct{}, 1),
		idle:   idle,
		target: Guide{Cluster: types.NoCluster, State: -1},
	}, nil
}

// Start launches the worker. It stops when ctx is cancelled or Stop is
// called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(d.ctx)
	xlog.Info("Reasoning dispatcher started", "model", d.opts.model)
}

// Stop cancels the worker, waits for it to exit and fails every request
// still queued with ErrStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.stopped = true
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	d.mu.Lock()
	leftover := append(d.high, d.low...)
	d.high, d.low = nil, nil
	d.mu.Unlock()
	d.updateDepth()

	for _, env := range leftover {
		env.req.fail(ErrStopped)
		d.done()
	}
	xlog.Info("Reasoning dispatcher stopped", "discarded", len(leftover))
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		env := d.pop()
		if env == nil {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			case <-ticker.C:
			}
			continue
		}
		d.process(ctx, env)
	}
}

func (d *Dispatcher) process(ctx context.Context, env *Envelope) {
	defer d.done()

	kind := env.Kind.String()
	start := time.Now()
	xlog.Debug("Processing request", "id", env.ID, "kind", kind, "cluster", env.Cluster, "state", env.State)

	err := env.req.handle(ctx, d, env)
	requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		env.req.fail(err)
		requestsTotal.WithLabelValues(kind, "error").Inc()
		xlog.Error("Request failed", "id", env.ID, "kind", kind, "error", err)
		return
	}
	requestsTotal.WithLabelValues(kind, "ok").Inc()
	xlog.Debug("Request complete", "id", env.ID, "kind", kind, "elapsed", time.Since(start))
}

func (d *Dispatcher) enqueue(req request, cluster, state int) *Envelope {
	env := &Envelope{
		ID:       uuid.New(),
		Kind:     req.kind(),
		Cluster:  cluster,
		State:    state,
		Enqueued: time.Now(),
		req:      req,
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		req.fail(ErrStopped)
		return env
	}
	d.addPending()
	var remaining int
	if env.Kind.highPriority() {
		d.high = append(d.high, env)
		remaining = len(d.high)
	} else {
		d.low = append(d.low, env)
		remaining = len(d.low)
	}
	d.mu.Unlock()
	d.updateDepth()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	xlog.Debug("Pushed request", "kind", env.Kind.String(), "cluster", cluster, "state", state, "remaining", remaining)
	return env
}

// pop takes the next envelope, high queue first.
func (d *Dispatcher) pop() *Envelope {
	d.mu.Lock()
	var env *Envelope
	switch {
	case len(d.high) > 0:
		env, d.high = d.high[0], d.high[1:]
	case len(d.low) > 0:
		env, d.low = d.low[0], d.low[1:]
	}
	d.mu.Unlock()
	if env != nil {
		d.updateDepth()
	}
	return env
}

func (d *Dispatcher) updateDepth() {
	d.mu.Lock()
	h, l := len(d.high), len(d.low)
	d.mu.Unlock()
	queueDepth.WithLabelValues("high").Set(float64(h))
	queueDepth.WithLabelValues("low").Set(float64(l))
}

func (d *Dispatcher) addPending() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
}

func (d *Dispatcher) done() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

// Pending is the number of requests enqueued and not yet completed.
func (d *Dispatcher) Pending() int {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return d.pending
}

// WaitIdle blocks until every enqueued request has completed.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	d.pendingMu.Lock()
	idle := d.idle
	n := d.pending
	d.pendingMu.Unlock()

	if n > 0 {
		xlog.Debug("Waiting for pending requests", "pending", n)
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestOverview asks for the overview and function list of a cluster. The
// result is applied to the cluster by the worker.
func (d *Dispatcher) RequestOverview(cluster int) {
	d.enqueue(&overviewRequest{cluster: cluster}, cluster, -1)
}

// RequestReanalysis enqueues a low priority reanalysis of cluster. It is
// dropped, and false returned, unless the cluster ranks within the top-k.
func (d *Dispatcher) RequestReanalysis(cluster int) bool {
	d.mu.Lock()
	ranked := slices.Contains(d.ranking[:min(d.opts.topK, len(d.ranking))], cluster)
	d.mu.Unlock()

	if !ranked {
		reanalysisDropped.Inc()
		xlog.Debug("Dropping reanalysis of unranked cluster", "cluster", cluster)
		return false
	}
	d.enqueue(&reanalysisRequest{cluster: cluster}, cluster, -1)
	return true
}

// RequestGuide asks which function to test next and where it is.
func (d *Dispatcher) RequestGuide() *Future[Guide] {
	fut := newFuture[Guide]()
	d.enqueue(&guideRequest{result: fut}, types.NoCluster, -1)
	return fut
}

// RequestTestAction asks which action of state exercises the current target
// function. A nil action means the function is done or cannot be tested
// here.
func (d *Dispatcher) RequestTestAction(state *types.State) *Future[*types.Action] {
	fut := newFuture[*types.Action]()
	d.enqueue(&testRequest{state: state, result: fut}, state.Cluster(), state.ID)
	return fut
}

// MarkTested records the function of g as tested for the rest of the run.
func (d *Dispatcher) MarkTested(g Guide) {
	if g.Function == "" {
		return
	}
	d.mu.Lock()
	if !slices.Contains(d.tested, g.Function) {
		d.tested = append(d.tested, g.Function)
	}
	d.mu.Unlock()

	if !d.index.Update(g.Cluster, func(c *types.Cluster) { c.Complete(g.Function) }) {
		xlog.Warn("Can't find cluster when marking function as tested", "cluster", g.Cluster, "function", g.Function)
	}
}

// ClearExecuted forgets the actions performed during the last test round.
func (d *Dispatcher) ClearExecuted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executed = nil
}

// Target is the last guide target chosen by the reasoning service.
func (d *Dispatcher) Target() Guide {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// Ranking returns the valuable cluster ranking, most valuable first.
func (d *Dispatcher) Ranking() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.ranking)
}

func (d *Dispatcher) Tested() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.tested)
}

func (d *Dispatcher) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.executed)
}

// Conversation exposes the rolling window of exchanges.
func (d *Dispatcher) Conversation() *conversations.Window {
	return d.window
}

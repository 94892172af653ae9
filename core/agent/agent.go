package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mudler/LocalExplorer/core/coverage"
	"github.com/mudler/LocalExplorer/core/dispatcher"
	"github.com/mudler/LocalExplorer/core/merge"
	"github.com/mudler/LocalExplorer/core/navigation"
	"github.com/mudler/LocalExplorer/core/state"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/llm"
	"github.com/mudler/xlog"
)

var (
	ErrNoAction            = errors.New("no action can be selected")
	ErrNavigationInvariant = navigation.ErrInvariant
)

const (
	// screens of these packages are not worth an overview
	systemActivity = "com.android."

	TranscriptFile     = "transcript.txt"
	InteractionLogFile = "interactions.txt"
	GraphDumpFile      = "merged_states.json"
)

// Agent decides, for every observed state, which action to perform next.
// Step is meant to be called from a single goroutine.
type Agent struct {
	sync.Mutex
	options *options

	index      *merge.Index
	monitor    *coverage.Monitor
	dispatcher *dispatcher.Dispatcher
	planner    *navigation.Planner

	mode       types.Mode
	guide      dispatcher.Guide
	testSteps  int
	testAction *types.Action
	lastAction *types.Action
	coverage   float64

	guides    int
	successes int

	records []io.Closer
	context context.Context
	cancel  context.CancelFunc
}

func New(opts ...Option) (*Agent, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to set options: %w", err)
	}
	if options.config == nil {
		return nil, fmt.Errorf("no configuration given: %w", state.ErrMissingAppInfo)
	}
	if options.similarity == nil {
		return nil, errors.New("a similarity function is required")
	}
	if options.paths == nil {
		return nil, errors.New("a path finder is required")
	}
	cfg := options.config

	if options.client == nil {
		options.client = llm.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
	}

	monitorOpts := []coverage.Option{
		coverage.WithCapacity(cfg.Window),
		coverage.WithMinGrowthRate(cfg.MinGrowthRate),
		coverage.WithClock(options.clock),
	}
	if !cfg.PauseOnCoverage() {
		monitorOpts = append(monitorOpts, coverage.WithSchedule(cfg.StageSchedule))
	}
	monitor, err := coverage.New(monitorOpts...)
	if err != nil {
		return nil, err
	}

	index := merge.NewIndex(options.similarity, options.mergeThreshold)

	planner, err := navigation.New(options.similarity, index.State,
		navigation.WithSimilarityRange(cfg.MaxSimilarity, cfg.MinSimilarity))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(options.context)
	a := &Agent{
		options: options,
		index:   index,
		monitor: monitor,
		planner: planner,
		mode:    types.ModeExplore,
		guide:   dispatcher.Guide{Cluster: types.NoCluster, State: -1},
		context: ctx,
		cancel:  cancel,
	}

	dispatcherOpts := []dispatcher.Option{
		dispatcher.WithStartPrompt(cfg.StartPrompt()),
		dispatcher.WithModel(cfg.Model),
		dispatcher.WithTopK(cfg.TopK),
		dispatcher.WithConversationCap(cfg.MaxConversation),
		dispatcher.WithJSONMode(cfg.JSONMode),
	}
	if options.outputDir != "" {
		recordOpts, err := a.openRecords(options.outputDir)
		if err != nil {
			cancel()
			return nil, err
		}
		dispatcherOpts = append(dispatcherOpts, recordOpts...)
	}
	dispatcherOpts = append(dispatcherOpts, options.dispatcherOptions...)

	a.dispatcher, err = dispatcher.New(index, options.client, dispatcherOpts...)
	if err != nil {
		a.closeRecords()
		cancel()
		return nil, err
	}
	return a, nil
}

func (a *Agent) openRecords(dir string) ([]dispatcher.Option, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	transcript, err := os.Create(filepath.Join(dir, TranscriptFile))
	if err != nil {
		return nil, err
	}
	interactions, err := os.Create(filepath.Join(dir, InteractionLogFile))
	if err != nil {
		transcript.Close()
		return nil, err
	}
	a.records = append(a.records, transcript, interactions)
	return []dispatcher.Option{
		dispatcher.WithTranscript(transcript),
		dispatcher.WithInteractionLog(interactions),
	}, nil
}

func (a *Agent) closeRecords() {
	for _, c := range a.records {
		if err := c.Close(); err != nil {
			xlog.Warn("Failed to close record file", "error", err)
		}
	}
	a.records = nil
}

// Start launches the reasoning worker.
func (a *Agent) Start() {
	a.dispatcher.Start(a.context)
	xlog.Info("Explorer started", "app", a.options.config.AppName, "mode", a.mode.String())
}

// Stop shuts the reasoning worker down and closes the record files.
func (a *Agent) Stop() {
	a.cancel()
	a.dispatcher.Stop()
	a.closeRecords()
	xlog.Info("Explorer stopped", "guides", a.guides, "successes", a.successes)
}

// Step processes a newly observed state and returns the action to perform
// on it.
func (a *Agent) Step(state *types.State) (*types.Action, error) {
	a.Lock()
	defer a.Unlock()

	action, err := a.step(state)
	a.observe(state, action, err)
	return action, err
}

func (a *Agent) step(state *types.State) (*types.Action, error) {
	stepsTotal.WithLabelValues(a.mode.String()).Inc()
	if a.lastAction != nil {
		xlog.Debug("Last action", "action", a.lastAction.String())
	}

	res := a.index.Classify(state, a.lastAction)
	if res.Created && !strings.Contains(state.Activity, systemActivity) {
		a.dispatcher.RequestOverview(res.Cluster)
	}

	if err := a.switchMode(state); err != nil {
		return nil, err
	}

	action, err := a.resolveAction(state)
	if err != nil {
		return nil, err
	}
	action.Visited = true
	action.VisitCount++
	a.lastAction = action
	return action, nil
}

func (a *Agent) observe(state *types.State, action *types.Action, err error) {
	if a.options.observer == nil {
		return
	}
	obs := a.options.observer.NewObservable()
	obs.State = state.ID
	obs.Cluster = state.Cluster()
	obs.Mode = a.mode.String()
	obs.Coverage = a.coverage
	if action != nil {
		obs.Action = action.String()
	}
	if a.mode != types.ModeExplore {
		obs.Function = a.guide.Function
	}
	if err != nil {
		obs.Error = err.Error()
	}
	a.options.observer.Update(*obs)
}

func (a *Agent) Mode() types.Mode {
	a.Lock()
	defer a.Unlock()
	return a.mode
}

// Guide returns the current navigation target.
func (a *Agent) Guide() dispatcher.Guide {
	a.Lock()
	defer a.Unlock()
	return a.guide
}

// GuideStats returns how many navigation rounds succeeded and how many
// guide targets were requested.
func (a *Agent) GuideStats() (succeeded, total int) {
	a.Lock()
	defer a.Unlock()
	return a.successes, a.guides
}

func (a *Agent) Index() *merge.Index {
	return a.index
}

func (a *Agent) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

func (a *Agent) resultTimeout() time.Duration {
	return a.options.config.ResultWait()
}

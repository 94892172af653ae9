package agent

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mudler/LocalExplorer/core/coverage"
	"github.com/mudler/LocalExplorer/core/dispatcher"
	"github.com/mudler/LocalExplorer/core/merge"
	"github.com/mudler/LocalExplorer/core/state"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/llm"
)

type Option func(*options) error

type options struct {
	context        context.Context
	config         *state.Config
	client         llm.LLMClient
	similarity     types.SimilarityFunc
	paths          types.PathFinder
	coverage       coverage.Provider
	filter         types.ActionFilter
	rand           *rand.Rand
	mergeThreshold float64
	outputDir      string
	clock          func() time.Time
	observer       Observer

	dispatcherOptions []dispatcher.Option
}

func defaultOptions() *options {
	return &options{
		context:        context.Background(),
		filter:         types.ValidPriorityFilter,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		mergeThreshold: merge.DefaultThreshold,
		clock:          time.Now,
	}
}

func newOptions(opts ...Option) (*options, error) {
	options := defaultOptions()
	for _, o := range opts {
		if err := o(options); err != nil {
			return nil, err
		}
	}
	return options, nil
}

func WithContext(ctx context.Context) Option {
	return func(o *options) error {
		o.context = ctx
		return nil
	}
}

// WithConfig sets the explorer configuration. Defaults are applied to a copy,
// c is left as given. Records are written to its OutputDir unless
// WithOutputDir overrides it later.
func WithConfig(c *state.Config) Option {
	return func(o *options) error {
		if c == nil {
			return state.ErrMissingAppInfo
		}
		cfg := *c
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.config = &cfg
		o.outputDir = cfg.OutputDir
		return nil
	}
}

// WithObserver reports every decision of Step to o.
func WithObserver(o Observer) Option {
	return func(opts *options) error {
		opts.observer = o
		return nil
	}
}

// WithLLMClient replaces the client built from the configuration.
func WithLLMClient(client llm.LLMClient) Option {
	return func(o *options) error {
		o.client = client
		return nil
	}
}

func WithSimilarity(f types.SimilarityFunc) Option {
	return func(o *options) error {
		o.similarity = f
		return nil
	}
}

func WithPathFinder(p types.PathFinder) Option {
	return func(o *options) error {
		o.paths = p
		return nil
	}
}

func WithCoverage(p coverage.Provider) Option {
	return func(o *options) error {
		o.coverage = p
		return nil
	}
}

// WithFilter sets the predicate an action must pass to be picked by
// priority.
func WithFilter(f types.ActionFilter) Option {
	return func(o *options) error {
		o.filter = f
		return nil
	}
}

func WithRand(r *rand.Rand) Option {
	return func(o *options) error {
		o.rand = r
		return nil
	}
}

func WithMergeThreshold(t float64) Option {
	return func(o *options) error {
		if t <= 0 || t > 1 {
			return fmt.Errorf("merge threshold must be in (0,1], got %f", t)
		}
		o.mergeThreshold = t
		return nil
	}
}

// WithOutputDir sets where the transcript, the interaction log and the graph
// dump go. An empty dir disables them.
func WithOutputDir(dir string) Option {
	return func(o *options) error {
		o.outputDir = dir
		return nil
	}
}

// WithClock replaces time.Now for the stage schedule.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.clock = now
		return nil
	}
}

// WithDispatcherOptions passes extra options to the reasoning dispatcher.
func WithDispatcherOptions(opts ...dispatcher.Option) Option {
	return func(o *options) error {
		o.dispatcherOptions = append(o.dispatcherOptions, opts...)
		return nil
	}
}

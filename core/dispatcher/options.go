package dispatcher

import (
	"fmt"
	"io"
	"time"

	"github.com/mudler/LocalExplorer/core/conversations"
	"github.com/mudler/LocalExplorer/pkg/llm"
)

const (
	DefaultTopK              = 10
	DefaultRankingHead       = 5
	DefaultMaxParseAttempts  = 3
	DefaultTransportAttempts = 5
	DefaultRetryDelay        = 3 * time.Second
	DefaultDescriptionLimit  = 7000
)

type options struct {
	startPrompt       string
	model             string
	topK              int
	rankingHead       int
	conversationCap   int
	maxParseAttempts  int
	transportAttempts int
	retryDelay        time.Duration
	pollInterval      time.Duration
	descriptionLimit  int
	jsonMode          bool
	transcript        io.Writer
	interactions      io.Writer
}

type Option func(*options) error

func defaultOptions() *options {
	return &options{
		model:             llm.DefaultModel,
		topK:              DefaultTopK,
		rankingHead:       DefaultRankingHead,
		conversationCap:   conversations.DefaultCapacity,
		maxParseAttempts:  DefaultMaxParseAttempts,
		transportAttempts: DefaultTransportAttempts,
		retryDelay:        DefaultRetryDelay,
		pollInterval:      time.Second,
		descriptionLimit:  DefaultDescriptionLimit,
	}
}

// WithStartPrompt sets the application preamble every prompt begins with.
func WithStartPrompt(p string) Option {
	return func(o *options) error {
		o.startPrompt = p
		return nil
	}
}

func WithModel(model string) Option {
	return func(o *options) error {
		if model != "" {
			o.model = model
		}
		return nil
	}
}

// WithTopK bounds how many ranked clusters a guide prompt shows and which
// clusters may be reanalysed.
func WithTopK(k int) Option {
	return func(o *options) error {
		if k <= 0 {
			return fmt.Errorf("top-k must be positive, got %d", k)
		}
		o.topK = k
		return nil
	}
}

func WithConversationCap(n int) Option {
	return func(o *options) error {
		o.conversationCap = n
		return nil
	}
}

func WithMaxParseAttempts(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("parse attempts must be positive, got %d", n)
		}
		o.maxParseAttempts = n
		return nil
	}
}

// WithTransportRetry sets how many times a failed call to the reasoning
// service is attempted and the fixed delay between attempts.
func WithTransportRetry(attempts int, delay time.Duration) Option {
	return func(o *options) error {
		if attempts <= 0 {
			return fmt.Errorf("transport attempts must be positive, got %d", attempts)
		}
		o.transportAttempts = attempts
		o.retryDelay = delay
		return nil
	}
}

// WithPollInterval sets how often an idle worker wakes up on its own.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		o.pollInterval = d
		return nil
	}
}

// WithJSONMode asks the service for a JSON object response format.
func WithJSONMode(enabled bool) Option {
	return func(o *options) error {
		o.jsonMode = enabled
		return nil
	}
}

// WithTranscript records every prompt and response to w.
func WithTranscript(w io.Writer) Option {
	return func(o *options) error {
		o.transcript = w
		return nil
	}
}

// WithInteractionLog writes one line per answered request to w.
func WithInteractionLog(w io.Writer) Option {
	return func(o *options) error {
		o.interactions = w
		return nil
	}
}

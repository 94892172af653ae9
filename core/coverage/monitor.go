package coverage

import (
	"fmt"
	"time"

	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"
)

// Strategy selects which signal ends an exploration stage.
type Strategy int

const (
	// PauseOnStagnation pauses when every growth sample in a full window is at
	// or below the adaptive threshold.
	PauseOnStagnation Strategy = iota
	// PauseOnSchedule pauses when the wall clock passes the stage deadline.
	PauseOnSchedule
)

const (
	DefaultCapacity      = 5
	DefaultMinGrowthRate = 0.1
	DefaultSchedule      = "@every 10m"

	// the threshold follows this fraction of the smoothed growth rate
	thresholdRatio = 0.5
	smoothing      = 0.2
)

// Provider reports the current coverage ratio of the application under test.
type Provider interface {
	Coverage() (float64, error)
}

type ProviderFunc func() (float64, error)

func (f ProviderFunc) Coverage() (float64, error) {
	return f()
}

// Monitor keeps a bounded window of coverage growth rates and decides when
// blind exploration has stagnated.
type Monitor struct {
	capacity  int
	minGrowth float64
	strategy  Strategy
	schedule  cron.Schedule
	now       func() time.Time

	window    []float64
	last      float64
	smoothed  float64
	samples   int
	threshold float64
	deadline  time.Time
}

type Option func(*Monitor) error

func WithCapacity(n int) Option {
	return func(m *Monitor) error {
		if n <= 0 {
			return fmt.Errorf("window capacity must be positive, got %d", n)
		}
		m.capacity = n
		return nil
	}
}

func WithMinGrowthRate(r float64) Option {
	return func(m *Monitor) error {
		m.minGrowth = r
		return nil
	}
}

// WithSchedule switches the monitor to PauseOnSchedule. spec is a standard
// cron expression or descriptor such as "@every 10m".
func WithSchedule(spec string) Option {
	return func(m *Monitor) error {
		s, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("invalid stage schedule %q: %w", spec, err)
		}
		m.schedule = s
		m.strategy = PauseOnSchedule
		return nil
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) error {
		m.now = now
		return nil
	}
}

func New(opts ...Option) (*Monitor, error) {
	m := &Monitor{
		capacity:  DefaultCapacity,
		minGrowth: DefaultMinGrowthRate,
		strategy:  PauseOnStagnation,
		now:       time.Now,
	}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	m.threshold = m.minGrowth
	m.Reset()
	return m, nil
}

func (m *Monitor) Strategy() Strategy {
	return m.strategy
}

func (m *Monitor) Threshold() float64 {
	return m.threshold
}

// Window returns a copy of the current growth-rate samples, oldest first.
func (m *Monitor) Window() []float64 {
	return append([]float64(nil), m.window...)
}

// Update feeds the coverage observed at the current step and returns the
// growth-rate sample and the new adaptive threshold.
func (m *Monitor) Update(current float64) (float64, float64) {
	sample := current - m.last
	m.last = current

	if m.samples == 0 {
		m.smoothed = sample
	} else {
		m.smoothed = smoothing*sample + (1-smoothing)*m.smoothed
	}
	m.samples++

	m.threshold = max(m.minGrowth, thresholdRatio*m.smoothed)

	m.window = append(m.window, sample)
	if len(m.window) > m.capacity {
		m.window = m.window[1:]
	}

	xlog.Debug("Coverage updated", "coverage", current, "growth", sample, "threshold", m.threshold, "window", len(m.window))
	return sample, m.threshold
}

// ShouldPause reports whether the current exploration stage is over.
func (m *Monitor) ShouldPause() bool {
	if m.strategy == PauseOnSchedule {
		return m.now().After(m.deadline)
	}

	if len(m.window) < m.capacity {
		return false
	}
	for _, s := range m.window {
		if s > m.threshold {
			return false
		}
	}
	xlog.Info("Low coverage growth rate detected", "threshold", m.threshold, "window", m.window)
	return true
}

// Reset starts a new exploration stage: the window is cleared and the stage
// deadline moves forward. The smoothed growth rate survives stages.
func (m *Monitor) Reset() {
	m.window = m.window[:0]
	if m.schedule != nil {
		m.deadline = m.schedule.Next(m.now())
	}
}

// Deadline is the end of the current stage under PauseOnSchedule.
func (m *Monitor) Deadline() time.Time {
	return m.deadline
}

package state

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mudler/LocalExplorer/core/conversations"
	"github.com/mudler/LocalExplorer/core/coverage"
	"github.com/mudler/LocalExplorer/pkg/llm"
	"gopkg.in/yaml.v3"
)

// ErrMissingAppInfo is returned when the application name or description is
// absent: prompts cannot be built without them.
var ErrMissingAppInfo = errors.New("the value of AppName and Description are missing in config")

// Config is the explorer configuration file. YAML is a superset of JSON, so
// plain config.json files load as well.
type Config struct {
	AppName     string `yaml:"AppName" json:"AppName"`
	Description string `yaml:"Description" json:"Description"`
	APIKey      string `yaml:"ApiKey" json:"ApiKey"`
	Model       string `yaml:"Model" json:"Model"`
	BaseURL     string `yaml:"BaseUrl" json:"BaseUrl"`
	Timeout     string `yaml:"Timeout" json:"Timeout"`

	Window        int     `yaml:"Window" json:"Window"`
	UseCoverage   *bool   `yaml:"UseCoverage" json:"UseCoverage"`
	StageSchedule string  `yaml:"StageSchedule" json:"StageSchedule"`
	MinGrowthRate float64 `yaml:"MinGrowthRate" json:"MinGrowthRate"`

	MaxConversation int     `yaml:"MaxConversation" json:"MaxConversation"`
	TopK            int     `yaml:"TopK" json:"TopK"`
	TestSteps       int     `yaml:"TestSteps" json:"TestSteps"`
	MaxSimilarity   float64 `yaml:"MaxSimilarity" json:"MaxSimilarity"`
	MinSimilarity   float64 `yaml:"MinSimilarity" json:"MinSimilarity"`
	ResultTimeout   string  `yaml:"ResultTimeout" json:"ResultTimeout"`
	JSONMode        bool    `yaml:"JsonMode" json:"JsonMode"`

	OutputDir string `yaml:"OutputDir" json:"OutputDir"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) SetDefaults() {
	if c.Model == "" {
		c.Model = llm.DefaultModel
	}
	if c.Timeout == "" {
		c.Timeout = "5m"
	}
	if c.Window <= 0 {
		c.Window = coverage.DefaultCapacity
	}
	if c.UseCoverage == nil {
		t := true
		c.UseCoverage = &t
	}
	if c.StageSchedule == "" {
		c.StageSchedule = coverage.DefaultSchedule
	}
	if c.MinGrowthRate <= 0 {
		c.MinGrowthRate = coverage.DefaultMinGrowthRate
	}
	if c.MaxConversation <= 0 {
		c.MaxConversation = conversations.DefaultCapacity
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.TestSteps <= 0 {
		c.TestSteps = 5
	}
	if c.MaxSimilarity <= 0 {
		c.MaxSimilarity = 0.8
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.6
	}
	if c.ResultTimeout == "" {
		c.ResultTimeout = "5m"
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
}

func (c *Config) Validate() error {
	if c.AppName == "" || c.Description == "" {
		return ErrMissingAppInfo
	}
	if c.MinSimilarity > c.MaxSimilarity {
		return fmt.Errorf("MinSimilarity %.2f is above MaxSimilarity %.2f", c.MinSimilarity, c.MaxSimilarity)
	}
	if _, err := time.ParseDuration(c.ResultTimeout); err != nil {
		return fmt.Errorf("invalid ResultTimeout: %w", err)
	}
	return nil
}

// PauseOnCoverage reports whether exploration stages end on coverage
// stagnation rather than on the stage schedule.
func (c *Config) PauseOnCoverage() bool {
	return c.UseCoverage == nil || *c.UseCoverage
}

// ResultWait is ResultTimeout parsed; it falls back to five minutes.
func (c *Config) ResultWait() time.Duration {
	d, err := time.ParseDuration(c.ResultTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// StartPrompt is the preamble every prompt begins with.
func (c *Config) StartPrompt() string {
	return fmt.Sprintf("I'm now testing an app called %s on Android.\n%s\n", c.AppName, c.Description)
}

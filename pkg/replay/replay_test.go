package replay_test

import (
	"context"
	"strings"
	"time"

	"github.com/mudler/LocalExplorer/core/agent"
	"github.com/mudler/LocalExplorer/core/dispatcher"
	"github.com/mudler/LocalExplorer/core/navigation"
	"github.com/mudler/LocalExplorer/core/state"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/llm"
	. "github.com/mudler/LocalExplorer/pkg/replay"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
)

const notes = `
start: 1
screens:
  - id: 1
    activity: com.example.Notes
    description: |
      <button id=1>New note</button>
      <button id=2>Settings</button>
    actions:
      - {id: 1, type: click, element: 1, target: new note, next: 2}
      - {id: 2, type: click, element: 2, target: settings, next: 3}
  - id: 2
    activity: com.example.Editor
    description: |
      <input id=1>Title</input>
      <button id=2>Save</button>
    actions:
      - {id: 3, type: click, element: 2, target: save, next: 1}
      - {id: 4, type: back, element: -1, next: 1}
  - id: 3
    activity: com.example.Settings
    description: <switch id=1>Dark theme</switch>
    actions:
      - {id: 5, type: click, element: 1, target: dark theme, next: -1}
      - {id: 6, type: back, element: -1, next: 1}
`

type stepFunc func(*types.State) (*types.Action, error)

func (f stepFunc) Step(s *types.State) (*types.Action, error) {
	return f(s)
}

var _ = Describe("Trace", func() {
	It("parses and validates", func() {
		t, err := ParseTrace([]byte(notes))
		Expect(err).ToNot(HaveOccurred())
		Expect(t.Start).To(Equal(1))
		Expect(t.Screens).To(HaveLen(3))
		Expect(t.Screens[2].Actions[0].Next).To(Equal(Stay))
	})

	DescribeTable("rejects broken traces",
		func(trace string) {
			_, err := ParseTrace([]byte(trace))
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", `start: 1`),
		Entry("unknown start", `{"start": 2, "screens": [{"id": 1}]}`),
		Entry("duplicate screen", `{"start": 1, "screens": [{"id": 1}, {"id": 1}]}`),
		Entry("unknown type", `{"start": 1, "screens": [{"id": 1, "actions": [{"id": 1, "type": "swipe", "next": -1}]}]}`),
		Entry("unknown next", `{"start": 1, "screens": [{"id": 1, "actions": [{"id": 1, "type": "back", "next": 4}]}]}`),
	)
})

var _ = Describe("Similarity", func() {
	It("is the Jaccard index of description lines", func() {
		a := types.NewState(1, "Main", "a\nb\nc")
		b := types.NewState(2, "Main", "b\nc\nd")
		Expect(Similarity(a, b)).To(BeNumerically("~", 0.5, 1e-9))
		Expect(Similarity(a, a)).To(Equal(1.0))
		Expect(Similarity(types.NewState(3, "Main", ""), types.NewState(4, "Main", " "))).To(Equal(1.0))
	})

	It("never matches across activities", func() {
		Expect(Similarity(types.NewState(1, "Main", "a"), types.NewState(2, "Other", "a"))).To(BeZero())
	})
})

var _ = Describe("App", func() {
	var app *App

	BeforeEach(func() {
		t, err := ParseTrace([]byte(notes))
		Expect(err).ToNot(HaveOccurred())
		app, err = NewApp(t)
		Expect(err).ToNot(HaveOccurred())
	})

	It("moves between screens and measures coverage", func() {
		home := app.Current()
		Expect(home.ID).To(Equal(1))
		Expect(home.Actions).To(HaveLen(2))

		settings, err := app.Perform(home.Actions[1])
		Expect(err).ToNot(HaveOccurred())
		Expect(settings.ID).To(Equal(3))

		same, err := app.Perform(settings.Actions[0])
		Expect(err).ToNot(HaveOccurred())
		Expect(same).To(BeIdenticalTo(settings))

		coverage, err := app.Coverage()
		Expect(err).ToNot(HaveOccurred())
		Expect(coverage).To(BeNumerically("~", 2.0/6.0, 1e-9))

		back, err := app.Perform(RestartAction())
		Expect(err).ToNot(HaveOccurred())
		Expect(back).To(BeIdenticalTo(home))
	})

	It("rejects actions of other screens", func() {
		_, err := app.Perform(types.NewAction(5, types.ActionClick, 1, "dark theme"))
		Expect(err).To(MatchError(ErrUnknownAction))
	})

	It("finds observed paths from a fresh start", func() {
		home := app.Current()
		Expect(app.FindPaths(3)).To(BeEmpty())

		settings, _ := app.Perform(home.Actions[1])
		app.Perform(settings.Actions[1])

		paths := app.FindPaths(3)
		Expect(paths).To(HaveLen(1))
		steps := paths[0].Steps
		Expect(steps).To(HaveLen(2))
		Expect(steps[0].Target).To(Equal(1))
		Expect(steps[0].Action.Type).To(Equal(types.ActionRestart))
		Expect(steps[1].Target).To(Equal(3))
		Expect(steps[1].Action.SameAs(home.Actions[1])).To(BeTrue())
		Expect(steps[1].Action).ToNot(BeIdenticalTo(home.Actions[1]))

		Expect(app.FindPaths(1)).To(HaveLen(1))
		Expect(app.FindPaths(42)).To(BeEmpty())
	})
})

var _ = Describe("Run", func() {
	var app *App

	BeforeEach(func() {
		t, err := ParseTrace([]byte(notes))
		Expect(err).ToNot(HaveOccurred())
		app, err = NewApp(t)
		Expect(err).ToNot(HaveOccurred())
	})

	It("performs the chosen actions", func() {
		records, err := Run(context.Background(), stepFunc(func(s *types.State) (*types.Action, error) {
			return s.Actions[0], nil
		}), app, 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(3))
		Expect(records[0]).To(Equal(Record{Step: 0, State: 1, Action: "click new note", Coverage: 1.0 / 6.0}))
		Expect(records[1].State).To(Equal(2))
		Expect(records[2].State).To(Equal(1))
	})

	It("restarts the app when navigation leaves its path", func() {
		calls := 0
		records, err := Run(context.Background(), stepFunc(func(s *types.State) (*types.Action, error) {
			calls++
			if calls == 2 {
				return nil, navigation.ErrInvariant
			}
			return s.Actions[0], nil
		}), app, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(records[1].Action).To(Equal("restart"))
		Expect(app.Current().ID).To(Equal(1))
	})

	It("stops on cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		records, err := Run(ctx, stepFunc(func(s *types.State) (*types.Action, error) {
			return s.Actions[0], nil
		}), app, 3)
		Expect(err).To(MatchError(context.Canceled))
		Expect(records).To(BeEmpty())
	})

	It("drives the explorer through the trace", func() {
		cfg, err := state.Parse([]byte(`{"AppName": "Notes", "Description": "A note taking app", "Window": 3, "TestSteps": 2}`))
		Expect(err).ToNot(HaveOccurred())

		client := &llm.MockClient{CreateChatCompletionFunc: func(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			prompt := req.Messages[len(req.Messages)-1].Content
			switch {
			case strings.Contains(prompt, "State Informations"):
				return llm.Reply(`{"Target State": "State2", "Target Function": "toggle dark theme"}`), nil
			case strings.Contains(prompt, "Page Description"):
				return llm.Reply(`{"Element Id": 1, "Action Type": 0}`), nil
			case strings.Contains(prompt, "Controls in HTML Description"):
				return llm.Reply(`{"Functions": {}}`), nil
			}
			return llm.Reply(`{"Overview": "a screen", "Function List": ["toggle dark theme"]}`), nil
		}}

		explorer, err := agent.New(
			agent.WithConfig(cfg),
			agent.WithOutputDir(""),
			agent.WithLLMClient(client),
			agent.WithSimilarity(Similarity),
			agent.WithPathFinder(app),
			agent.WithCoverage(app),
			agent.WithDispatcherOptions(dispatcher.WithPollInterval(10*time.Millisecond)),
		)
		Expect(err).ToNot(HaveOccurred())
		explorer.Start()
		defer explorer.Stop()

		records, err := Run(context.Background(), explorer, app, 40)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(40))
		Expect(explorer.Index().Len()).To(Equal(3))

		coverage, _ := app.Coverage()
		Expect(coverage).To(BeNumerically(">", 0))
	})
})

package dispatcher_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mudler/LocalExplorer/core/dispatcher"
	"github.com/mudler/LocalExplorer/core/merge"
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/llm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/goleak"
)

// sameActivity merges states that share an activity.
func sameActivity(a, b *types.State) float64 {
	if a.Activity == b.Activity {
		return 1
	}
	return 0
}

func lastPrompt(req openai.ChatCompletionRequest) string {
	return req.Messages[len(req.Messages)-1].Content
}

func kindOf(prompt string) dispatcher.Kind {
	switch {
	case strings.Contains(prompt, "Controls in HTML Description"):
		return dispatcher.KindReanalysis
	case strings.Contains(prompt, "State Informations"):
		return dispatcher.KindGuide
	case strings.Contains(prompt, "Page Description"):
		return dispatcher.KindTestFunction
	}
	return dispatcher.KindStateOverview
}

// scriptedReplies answers every kind with a fixed reply and records the order
// in which kinds were asked.
type scriptedReplies struct {
	mu      sync.Mutex
	replies map[dispatcher.Kind]string
	asked   []dispatcher.Kind
	gate    chan struct{}
}

func (s *scriptedReplies) answer(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	k := kindOf(lastPrompt(req))
	s.mu.Lock()
	s.asked = append(s.asked, k)
	gate := s.gate
	reply := s.replies[k]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	return llm.Reply(reply), nil
}

func (s *scriptedReplies) Asked() []dispatcher.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatcher.Kind(nil), s.asked...)
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		index   *merge.Index
		client  *llm.MockClient
		script  *scriptedReplies
		d       *dispatcher.Dispatcher
		ignore  goleak.Option
		options []dispatcher.Option
		home    *types.State
	)

	BeforeEach(func() {
		home = types.NewState(1, "Main", "<button id=1>Search</button>\n<button id=2>Settings</button>",
			types.NewAction(1, types.ActionClick, 1, "search"),
			types.NewAction(2, types.ActionClick, 2, "settings"),
			types.NewAction(3, types.ActionFeed, -1, ""),
		)
		ignore = goleak.IgnoreCurrent()
		ctx, cancel = context.WithCancel(context.Background())
		index = merge.NewIndex(sameActivity, 0.8)
		script = &scriptedReplies{replies: map[dispatcher.Kind]string{
			dispatcher.KindStateOverview: `Sure! {"Overview": "Home page", "Function List": ["search notes", "open settings"]}`,
			dispatcher.KindGuide:         `{"Target State": "State0", "Target Function": "open settings"}`,
			dispatcher.KindTestFunction:  `{"Element Id": 2, "Action Type": 0}`,
			dispatcher.KindReanalysis:    `{"Overview": "Home page with a menu", "Functions": {"share note": [1]}}`,
		}}
		client = &llm.MockClient{CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return script.answer(ctx, req)
		}}
		options = []dispatcher.Option{
			dispatcher.WithStartPrompt("I'm now testing an app called Notes on Android.\n"),
			dispatcher.WithPollInterval(10 * time.Millisecond),
			dispatcher.WithTransportRetry(2, time.Millisecond),
		}
	})

	JustBeforeEach(func() {
		var err error
		d, err = dispatcher.New(index, client, options...)
		Expect(err).ToNot(HaveOccurred())
		d.Start(ctx)
	})

	AfterEach(func() {
		d.Stop()
		cancel()
		goleak.VerifyNone(GinkgoT(), ignore)
	})

	classify := func(s *types.State) int {
		return index.Classify(s, nil).Cluster
	}

	Context("overviews", func() {
		It("applies the overview and function list to the cluster", func() {
			id := classify(home)
			d.RequestOverview(id)
			Expect(d.WaitIdle(ctx)).To(Succeed())

			c, ok := index.Cluster(id)
			Expect(ok).To(BeTrue())
			Expect(c.Overview).To(Equal("Home page"))
			Expect(c.UntestedFunctions()).To(Equal([]string{"search notes", "open settings"}))
			Expect(d.Ranking()).To(Equal([]int{id}))
		})

		It("clips long descriptions", func() {
			long := types.NewState(2, "Long", strings.Repeat("é", 8000))
			d.RequestOverview(classify(long))
			Expect(d.WaitIdle(ctx)).To(Succeed())

			prompt := lastPrompt(client.Requests()[0])
			Expect(strings.Count(prompt, "é")).To(Equal(dispatcher.DefaultDescriptionLimit))
		})
	})

	Context("queues", func() {
		It("serves the high priority queue first", func() {
			id := classify(home)
			d.RequestOverview(id)
			Expect(d.WaitIdle(ctx)).To(Succeed())

			gate := make(chan struct{})
			script.mu.Lock()
			script.gate = gate
			script.mu.Unlock()

			other := types.NewState(2, "Other", "<text id=1>\tHello</text>")
			d.RequestOverview(classify(other))
			Eventually(func() int { return len(script.Asked()) }).Should(Equal(2))

			member := types.NewState(3, "Main", home.Description+"\n<button id=3>Share</button>")
			classify(member)
			Expect(d.RequestReanalysis(id)).To(BeTrue())
			guide := d.RequestGuide()
			Expect(d.Pending()).To(Equal(3))

			close(gate)
			_, err := guide.Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.WaitIdle(ctx)).To(Succeed())

			Expect(script.Asked()).To(Equal([]dispatcher.Kind{
				dispatcher.KindStateOverview,
				dispatcher.KindStateOverview,
				dispatcher.KindGuide,
				dispatcher.KindReanalysis,
			}))
		})

		It("drops reanalysis of clusters outside the ranking", func() {
			id := classify(home)
			Expect(d.RequestReanalysis(id)).To(BeFalse())
			Expect(d.Pending()).To(BeZero())
		})

		It("waits for every pending request", func() {
			d.RequestOverview(classify(home))
			d.RequestOverview(classify(types.NewState(2, "Other", "x")))
			Expect(d.WaitIdle(ctx)).To(Succeed())
			Expect(d.Pending()).To(BeZero())
			Expect(client.Requests()).To(HaveLen(2))
		})
	})

	Context("guides", func() {
		It("resolves the concrete state exposing the function", func() {
			id := classify(home)
			d.RequestOverview(id)
			Expect(d.WaitIdle(ctx)).To(Succeed())

			g, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(g).To(Equal(dispatcher.Guide{Cluster: id, Function: "open settings", State: home.ID}))
			Expect(d.Target()).To(Equal(g))

			d.MarkTested(g)
			Expect(d.Tested()).To(ConsistOf("open settings"))
			c, _ := index.Cluster(id)
			Expect(c.Tested("open settings")).To(BeTrue())
		})

		It("reports an unknown target cluster", func() {
			script.replies[dispatcher.KindGuide] = `{"Target State": 42, "Target Function": "x"}`
			g, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(g.State).To(Equal(-1))
		})

		It("lists the tested functions in later prompts", func() {
			d.MarkTested(dispatcher.Guide{Cluster: 0, Function: "login"})
			_, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(lastPrompt(client.Requests()[0])).To(ContainSubstring("{login}"))
		})
	})

	Context("function tests", func() {
		It("returns the action and logs it as executed", func() {
			classify(home)
			a, err := d.RequestTestAction(home).Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(a).To(Equal(home.Actions[1]))
			Expect(a).ToNot(BeIdenticalTo(home.Actions[1]))
			Expect(d.Executed()).To(Equal([]string{"click <button id=2>Settings</button>"}))

			d.ClearExecuted()
			Expect(d.Executed()).To(BeEmpty())
		})

		It("sets the input text of input actions", func() {
			script.replies[dispatcher.KindTestFunction] = `{"Element Id": 1, "Action Type": 6, "Input": "groceries"}`
			state := types.NewState(5, "Search", "<input id=1>\tQuery</input>", types.NewAction(1, types.ActionClick, 1, "query"))
			classify(state)
			a, err := d.RequestTestAction(state).Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(a.InputText).To(Equal("groceries"))
			Expect(state.Actions[0].InputText).To(BeEmpty())
		})

		It("drops the reply of a round the caller gave up on", func() {
			script.replies[dispatcher.KindTestFunction] = `{"Element Id": 1, "Action Type": 6, "Input": "stale"}`
			gate := make(chan struct{})
			script.mu.Lock()
			script.gate = gate
			script.mu.Unlock()

			classify(home)
			late := d.RequestTestAction(home)
			_, err := late.Await(ctx, 20*time.Millisecond)
			Expect(err).To(MatchError(dispatcher.ErrResultTimeout))
			Expect(late.Abandoned()).To(BeTrue())

			d.ClearExecuted()
			close(gate)
			Expect(d.WaitIdle(ctx)).To(Succeed())

			Expect(d.Executed()).To(BeEmpty())
			Expect(home.Actions[0].InputText).To(BeEmpty())
		})

		It("returns no action when the function is done", func() {
			script.replies[dispatcher.KindTestFunction] = `Done. {"Element Id": -1, "Action Type": -1}`
			classify(home)
			a, err := d.RequestTestAction(home).Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(a).To(BeNil())
		})
	})

	Context("reanalysis", func() {
		It("adds functions found on members", func() {
			id := classify(home)
			d.RequestOverview(id)
			Expect(d.WaitIdle(ctx)).To(Succeed())

			member := types.NewState(3, "Main", home.Description+"\n<button id=3>Share</button>")
			classify(member)
			Expect(index.NeedingReanalysis()).To(ConsistOf(id))

			Expect(d.RequestReanalysis(id)).To(BeTrue())
			Expect(d.WaitIdle(ctx)).To(Succeed())

			prompt := lastPrompt(client.Requests()[1])
			Expect(prompt).To(ContainSubstring("[1] <button id=3>Share</button>"))

			c, _ := index.Cluster(id)
			Expect(c.Overview).To(Equal("Home page with a menu"))
			Expect(c.TargetState("share note")).To(Equal(member.ID))
			Expect(index.NeedingReanalysis()).To(BeEmpty())
		})
	})

	Context("failures", func() {
		It("gives up on replies without JSON", func() {
			script.replies[dispatcher.KindGuide] = "I am not sure"
			_, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).To(MatchError(dispatcher.ErrMalformedReply))
			Expect(client.Requests()).To(HaveLen(dispatcher.DefaultMaxParseAttempts))
		})

		It("reports an unreachable service", func() {
			client.CreateChatCompletionFunc = func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
				return openai.ChatCompletionResponse{}, errors.New("connection refused")
			}
			_, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).To(MatchError(dispatcher.ErrTransportExhausted))
			Expect(client.Requests()).To(HaveLen(2))
		})

		It("recovers when a retry succeeds", func() {
			var calls int
			client.CreateChatCompletionFunc = func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
				calls++
				if calls == 1 {
					return openai.ChatCompletionResponse{}, errors.New("timeout")
				}
				return script.answer(ctx, req)
			}
			_, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Context("records", func() {
		var transcript, interactions *bytes.Buffer

		BeforeEach(func() {
			transcript, interactions = &bytes.Buffer{}, &bytes.Buffer{}
			options = append(options,
				dispatcher.WithTranscript(transcript),
				dispatcher.WithInteractionLog(interactions),
				dispatcher.WithModel("test-model"),
				dispatcher.WithConversationCap(1),
			)
		})

		It("writes the transcript and one interaction line per reply", func() {
			d.RequestOverview(classify(home))
			_, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.WaitIdle(ctx)).To(Succeed())

			Expect(transcript.String()).To(ContainSubstring("Prompt:\n"))
			Expect(transcript.String()).To(ContainSubstring("Response:\n"))

			lines := strings.Split(strings.TrimSpace(interactions.String()), "\n")
			Expect(lines).To(HaveLen(2))
			Expect(lines[0]).To(MatchRegexp(`^\d+\.\d{5}, test-model, \d+, \d+, STATE_OVERVIEW$`))
			Expect(lines[1]).To(HaveSuffix(", GUIDE"))
		})

		It("keeps the conversation within its cap", func() {
			d.RequestOverview(classify(home))
			_, err := d.RequestGuide().Await(ctx, time.Second)
			Expect(err).ToNot(HaveOccurred())

			Expect(d.Conversation().Len()).To(Equal(1))
			Expect(client.Requests()[1].Messages).To(HaveLen(3))
		})
	})
})

var _ = Describe("Stopped dispatcher", func() {
	It("fails queued and later requests", func() {
		d, err := dispatcher.New(merge.NewIndex(sameActivity, 0.8), &llm.MockClient{})
		Expect(err).ToNot(HaveOccurred())

		queued := d.RequestGuide()
		Expect(d.Pending()).To(Equal(1))
		d.Stop()

		_, err = queued.Await(context.Background(), time.Second)
		Expect(err).To(MatchError(dispatcher.ErrStopped))
		Expect(d.Pending()).To(BeZero())

		_, err = d.RequestGuide().Await(context.Background(), time.Second)
		Expect(err).To(MatchError(dispatcher.ErrStopped))
	})
})

var _ = Describe("Future", func() {
	It("times out when nothing resolves it", func() {
		d, err := dispatcher.New(merge.NewIndex(sameActivity, 0.8), &llm.MockClient{})
		Expect(err).ToNot(HaveOccurred())
		defer d.Stop()

		_, err = d.RequestGuide().Await(context.Background(), 10*time.Millisecond)
		Expect(err).To(MatchError(dispatcher.ErrResultTimeout))
	})
})

var _ = Describe("ExtractJSON", func() {
	It("truncates to the outermost object", func() {
		obj, ok := dispatcher.ExtractJSON(`here is {"Element Id": 3} thanks`)
		Expect(ok).To(BeTrue())
		Expect(obj).To(Equal(`{"Element Id": 3}`))
	})

	It("keeps nested objects", func() {
		obj, ok := dispatcher.ExtractJSON("```json\n{\"a\": {\"b\": 1}}\n```")
		Expect(ok).To(BeTrue())
		Expect(obj).To(Equal(`{"a": {"b": 1}}`))
	})

	DescribeTable("rejects replies without an object",
		func(reply string) {
			_, ok := dispatcher.ExtractJSON(reply)
			Expect(ok).To(BeFalse())
		},
		Entry("no braces", "nothing here"),
		Entry("reversed braces", "} oops {"),
		Entry("broken object", `{"a": }`),
	)
})

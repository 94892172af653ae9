package conversations

import (
	"sync"

	"github.com/mudler/xlog"
	"github.com/sashabaranov/go-openai"
)

const DefaultCapacity = 5

// Exchange is one prompt sent to the reasoning service and its reply.
type Exchange struct {
	Prompt   string
	Response string
}

// Window keeps the most recent exchanges with the reasoning service. Once the
// capacity is exceeded the oldest exchange is evicted.
type Window struct {
	mu        sync.Mutex
	capacity  int
	exchanges []Exchange
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity}
}

// Add appends an exchange and reports whether the oldest one was evicted.
func (w *Window) Add(prompt, response string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.exchanges = append(w.exchanges, Exchange{Prompt: prompt, Response: response})
	if len(w.exchanges) <= w.capacity {
		return false
	}
	w.exchanges = w.exchanges[1:]
	xlog.Debug("Reached max cached conversation, dropped the earliest exchange", "capacity", w.capacity)
	return true
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.exchanges)
}

func (w *Window) Exchanges() []Exchange {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Exchange(nil), w.exchanges...)
}

// Messages renders the window as a chat history followed by prompt.
func (w *Window) Messages(prompt string) []openai.ChatCompletionMessage {
	w.mu.Lock()
	defer w.mu.Unlock()

	msgs := make([]openai.ChatCompletionMessage, 0, 2*len(w.exchanges)+1)
	for _, e := range w.exchanges {
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: e.Prompt},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: e.Response},
		)
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exchanges = nil
}

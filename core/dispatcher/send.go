package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mudler/xlog"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

const transcriptSeparator = "---------------------------------------"

// ask sends prompt and returns the JSON object found in the reply. A reply
// without one is asked again, up to maxParseAttempts times.
func (d *Dispatcher) ask(ctx context.Context, env *Envelope, prompt string) (gjson.Result, error) {
	for attempt := 1; attempt <= d.opts.maxParseAttempts; attempt++ {
		reply, err := d.send(ctx, env, prompt)
		if err != nil {
			return gjson.Result{}, err
		}
		if obj, ok := ExtractJSON(reply); ok {
			return gjson.Parse(obj), nil
		}
		retriesTotal.WithLabelValues("malformed").Inc()
		xlog.Warn("Reply carries no JSON object, asking again", "kind", env.Kind.String(), "attempt", attempt)
	}
	return gjson.Result{}, fmt.Errorf("%w: %d attempts", ErrMalformedReply, d.opts.maxParseAttempts)
}

// send performs one chat completion with the conversation window as history.
// Transport failures are retried with a fixed delay.
func (d *Dispatcher) send(ctx context.Context, env *Envelope, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    d.opts.model,
		Messages: d.window.Messages(prompt),
	}
	if d.opts.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var (
		resp    openai.ChatCompletionResponse
		err     error
		elapsed time.Duration
	)
	for attempt := 1; attempt <= d.opts.transportAttempts; attempt++ {
		start := time.Now()
		resp, err = d.client.CreateChatCompletion(ctx, req)
		elapsed = time.Since(start)
		if err == nil && len(resp.Choices) == 0 {
			err = errors.New("no choices in response")
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		xlog.Warn("Reasoning service call failed", "kind", env.Kind.String(), "attempt", attempt, "error", err)
		if attempt == d.opts.transportAttempts {
			break
		}
		retriesTotal.WithLabelValues("transport").Inc()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d.opts.retryDelay):
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransportExhausted, err)
	}

	content := resp.Choices[0].Message.Content
	d.window.Add(prompt, content)
	d.record(env, prompt, content, elapsed, resp.Usage)
	return content, nil
}

// record writes the exchange to the transcript and the interaction log.
func (d *Dispatcher) record(env *Envelope, prompt, response string, elapsed time.Duration, usage openai.Usage) {
	kind := env.Kind.String()
	tokensTotal.WithLabelValues(kind, "prompt").Add(float64(usage.PromptTokens))
	tokensTotal.WithLabelValues(kind, "completion").Add(float64(usage.CompletionTokens))

	if w := d.opts.transcript; w != nil {
		if _, err := fmt.Fprintf(w, "%s\n%s %s\nPrompt:\n%s\nResponse:\n%s\n%s\n",
			transcriptSeparator, env.ID, kind, prompt, response, transcriptSeparator); err != nil {
			xlog.Warn("Failed to write transcript", "error", err)
		}
	}
	if w := d.opts.interactions; w != nil {
		if _, err := fmt.Fprintf(w, "%.5f, %s, %d, %d, %s\n",
			elapsed.Seconds(), d.opts.model, usage.PromptTokens, usage.CompletionTokens, kind); err != nil {
			xlog.Warn("Failed to write interaction log", "error", err)
		}
	}
	xlog.Debug("Got response", "kind", kind, "elapsed", elapsed, "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
}

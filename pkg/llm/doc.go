// Package llm streams completions from the hosted model.
//
// AnthropicClient wraps the Messages streaming API and relays each text_delta
// to a callback as it arrives:
//
//	client := llm.NewAnthropicClient(llm.Config{APIKey: key, Model: "claude-sonnet-4-5"}, metrics)
//	result, err := client.Stream(ctx, llm.Request{System: sys, Prompt: prompt}, func(delta string) error {
//		return sse.Send("delta", map[string]string{"text": delta})
//	})
//
// Returning an error from the callback aborts the stream; callers use this
// when the client behind an SSE response has gone away.
package llm

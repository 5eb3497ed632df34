package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

var (
	// ErrEmptyCompletion is returned when the model finished without producing text
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
	// ErrIncompleteStream is returned when the stream ended before message_stop
	ErrIncompleteStream = errors.New("llm stream ended before message_stop")
	// ErrMaxTokens is returned when the completion was cut at the token limit
	ErrMaxTokens = errors.New("llm completion reached max_tokens")
)

// Request is a single-turn completion request
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// Result is the outcome of a completed stream
type Result struct {
	Text         string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Streamer streams a completion, calling onDelta for every text fragment in
// order. An error from onDelta aborts the stream and is returned as is.
type Streamer interface {
	Stream(ctx context.Context, req Request, onDelta func(string) error) (*Result, error)
}

// Config configures the Anthropic client
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicClient streams completions from the Anthropic Messages API
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	metrics   *observability.Metrics
}

// NewAnthropicClient creates a client. BaseURL overrides the API endpoint.
func NewAnthropicClient(cfg Config, metrics *observability.Metrics) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		metrics:   metrics,
	}
}

// Model returns the configured model name
func (c *AnthropicClient) Model() string {
	return c.model
}

// Stream sends req and relays text deltas to onDelta as they arrive
func (c *AnthropicClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (result *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "llm.Stream", attribute.String("llm.model", c.model))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.LLMStreamDuration.WithLabelValues(c.model, status).Observe(time.Since(start).Seconds())
		observability.EndSpan(span, err)
	}()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	var text strings.Builder
	stopped := false
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		var delta anthropic.ContentBlockDeltaEvent
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStopEvent:
			stopped = true
			continue
		case anthropic.ContentBlockDeltaEvent:
			delta = ev
		default:
			continue
		}
		textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}
		text.WriteString(textDelta.Text)
		if err := onDelta(textDelta.Text); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("llm stream failed: %w", err)
	}
	if !stopped || msg.StopReason == "" {
		return nil, ErrIncompleteStream
	}

	result = &Result{
		Text:         text.String(),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	c.metrics.LLMOutputTokensTotal.WithLabelValues(c.model).Add(float64(result.OutputTokens))

	if strings.TrimSpace(result.Text) == "" {
		return nil, ErrEmptyCompletion
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		return nil, ErrMaxTokens
	}
	return result, nil
}

package prd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/llm"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

const (
	KindGenerate = "generate"
	KindRevise   = "revise"
)

// Error codes carried by the error event once streaming has started
const (
	CodeLLMFailed          = "llm_failed"
	CodeEmptyCompletion    = "empty_completion"
	CodeStreamIncomplete   = "stream_incomplete"
	CodeTruncated          = "truncated"
	CodeClientDisconnected = "client_disconnected"
	CodeSaveFailed         = "save_failed"
	CodeVersionConflict    = "version_conflict"
)

var errorMessages = map[string]string{
	CodeLLMFailed:          "The model failed before the document was complete.",
	CodeEmptyCompletion:    "The model returned an empty document.",
	CodeStreamIncomplete:   "The model stream ended before the document was complete.",
	CodeTruncated:          "The document exceeded the maximum length and was not saved.",
	CodeClientDisconnected: "The connection closed before the document was complete.",
	CodeSaveFailed:         "The document could not be saved.",
	CodeVersionConflict:    "The document was changed by someone else while it was being revised.",
}

// StartEvent opens a stream, after credits have been deducted
type StartEvent struct {
	Kind        string           `json:"kind"`
	PRDID       *uuid.UUID       `json:"prd_id,omitempty"`
	Cost        int64            `json:"cost"`
	Pool        credits.PoolKind `json:"pool"`
	WorkspaceID *uuid.UUID       `json:"workspace_id,omitempty"`
}

// ErrorEvent ends a stream that failed after credits were deducted
type ErrorEvent struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Refunded bool   `json:"refunded"`
}

// Sink receives the events of one generation or revision. Start is sent
// once credits are deducted, then any number of Delta, then exactly one of
// Done or Error.
type Sink interface {
	Start(ev StartEvent) error
	Delta(text string) error
	Done(doc *PRD) error
	Error(ev ErrorEvent) error
}

// StreamFailure is returned once a stream has started and then failed. The
// client has already been sent the matching error event.
type StreamFailure struct {
	Code     string
	Refunded bool
	Err      error
}

func (f *StreamFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *StreamFailure) Unwrap() error {
	return f.Err
}

// GeneratorOptions holds optional Generator settings
type GeneratorOptions struct {
	Costs     Costs
	MaxTokens int64
	Archiver  Archiver
	Metrics   *observability.Metrics
}

// Generator runs generations and revisions: deduct, stream, save, and
// refund when anything after the deduction fails
type Generator struct {
	service   *Service
	ledger    credits.Ledger
	refunder  *credits.Refunder
	streamer  llm.Streamer
	costs     Costs
	maxTokens int64
	archiver  Archiver
	metrics   *observability.Metrics

	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// NewGenerator creates a Generator. Zero costs default to DefaultCosts.
func NewGenerator(service *Service, ledger credits.Ledger, refunder *credits.Refunder, streamer llm.Streamer, opts GeneratorOptions) *Generator {
	costs := opts.Costs
	if costs.Generation <= 0 {
		costs.Generation = DefaultCosts.Generation
	}
	if costs.Revision <= 0 {
		costs.Revision = DefaultCosts.Revision
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Generator{
		service:   service,
		ledger:    ledger,
		refunder:  refunder,
		streamer:  streamer,
		costs:     costs,
		maxTokens: opts.MaxTokens,
		archiver:  opts.Archiver,
		metrics:   metrics,
	}
}

// Costs returns the configured prices
func (g *Generator) Costs() Costs {
	return g.costs
}

// Generate creates a new PRD from an idea. Errors returned before Start was
// sent leave the balance untouched.
func (g *Generator) Generate(ctx context.Context, userID uuid.UUID, req *GenerateRequest, sink Sink) (*PRD, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.WorkspaceID != nil {
		if err := g.service.requireMember(ctx, *req.WorkspaceID, userID); err != nil {
			return nil, err
		}
	}
	prompt, err := BuildGeneratePrompt(req)
	if err != nil {
		return nil, err
	}

	j := job{
		kind:   KindGenerate,
		pool:   credits.PoolFor(userID, req.WorkspaceID),
		cost:   g.costs.Generation,
		reason: "generation",
		prompt: prompt,
	}
	return g.run(ctx, j, sink, func(ctx context.Context, content string) (*PRD, error) {
		doc := &PRD{
			ID:          uuid.New(),
			UserID:      userID,
			WorkspaceID: req.WorkspaceID,
			Title:       ExtractTitle(content, req.Idea),
			Idea:        req.Idea,
			Template:    req.Template,
			Language:    req.Language,
			Content:     content,
		}
		if err := g.service.store.Create(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// Revise rewrites an existing PRD following an instruction. The revision
// is charged to the pool the PRD belongs to.
func (g *Generator) Revise(ctx context.Context, userID, prdID uuid.UUID, req *ReviseRequest, sink Sink) (*PRD, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	doc, err := g.service.Get(ctx, userID, prdID)
	if err != nil {
		return nil, err
	}
	prompt, err := BuildRevisePrompt(doc, req.Instruction)
	if err != nil {
		return nil, err
	}

	j := job{
		kind:   KindRevise,
		prdID:  &doc.ID,
		pool:   credits.PoolFor(userID, doc.WorkspaceID),
		cost:   g.costs.Revision,
		reason: "revision:" + doc.ID.String(),
		prompt: prompt,
	}
	return g.run(ctx, j, sink, func(ctx context.Context, content string) (*PRD, error) {
		title := ExtractTitle(content, doc.Title)
		return g.service.store.UpdateContent(ctx, doc.ID, doc.Version, title, content, req.Instruction, userID)
	})
}

type job struct {
	kind   string
	prdID  *uuid.UUID
	pool   credits.Pool
	cost   int64
	reason string
	prompt Prompt
}

// Wait blocks until no generation or revision is running, or ctx ends
func (g *Generator) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	idle, active := g.idle, g.active
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d prd streams still running: %w", active, ctx.Err())
	}
}

func (g *Generator) begin() {
	g.mu.Lock()
	if g.active == 0 {
		g.idle = make(chan struct{})
	}
	g.active++
	g.mu.Unlock()
}

func (g *Generator) end() {
	g.mu.Lock()
	g.active--
	if g.active == 0 {
		close(g.idle)
	}
	g.mu.Unlock()
}

func (g *Generator) run(ctx context.Context, j job, sink Sink, save func(context.Context, string) (*PRD, error)) (doc *PRD, err error) {
	g.begin()
	defer g.end()

	ctx, span := observability.StartSpan(ctx, "prd."+j.kind,
		attribute.String("prd.kind", j.kind),
		attribute.String("credits.pool", string(j.pool.Kind)),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		g.metrics.GenerationsTotal.WithLabelValues(j.kind, outcome).Inc()
		g.metrics.GenerationDuration.WithLabelValues(j.kind).Observe(time.Since(start).Seconds())
		observability.EndSpan(span, err)
	}()

	log := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"kind": j.kind,
		"pool": j.pool.String(),
		"cost": j.cost,
	})

	if err := g.ledger.Deduct(ctx, j.pool, j.cost, j.reason); err != nil {
		outcome = "rejected"
		if errors.Is(err, credits.ErrNotWorkspaceMember) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	g.metrics.GenerationsInFlight.Inc()
	defer g.metrics.GenerationsInFlight.Dec()

	fail := func(code string, cause error) error {
		outcome = code
		refunded := g.refunder.RefundOrRecord(ctx, j.pool, j.cost, "refund:"+j.reason, code+": "+cause.Error())
		if sendErr := sink.Error(ErrorEvent{Code: code, Message: errorMessages[code], Refunded: refunded}); sendErr != nil {
			log.WithError(sendErr).Debug("could not deliver error event")
		}
		log.WithError(cause).WithFields(map[string]interface{}{
			"code":     code,
			"refunded": refunded,
		}).Warn("prd stream failed")
		return &StreamFailure{Code: code, Refunded: refunded, Err: cause}
	}

	startEvent := StartEvent{Kind: j.kind, PRDID: j.prdID, Cost: j.cost, Pool: j.pool.Kind, WorkspaceID: j.pool.WorkspaceID}
	if err := sink.Start(startEvent); err != nil {
		return nil, fail(CodeClientDisconnected, err)
	}

	var clientErr error
	result, err := g.streamer.Stream(ctx, llm.Request{
		System:    j.prompt.System,
		Prompt:    j.prompt.User,
		MaxTokens: g.maxTokens,
	}, func(text string) error {
		if err := sink.Delta(text); err != nil {
			clientErr = err
			return err
		}
		return nil
	})
	switch {
	case clientErr != nil:
		return nil, fail(CodeClientDisconnected, clientErr)
	case err != nil && ctx.Err() != nil:
		return nil, fail(CodeClientDisconnected, err)
	case errors.Is(err, llm.ErrEmptyCompletion):
		return nil, fail(CodeEmptyCompletion, err)
	case errors.Is(err, llm.ErrIncompleteStream):
		return nil, fail(CodeStreamIncomplete, err)
	case errors.Is(err, llm.ErrMaxTokens):
		return nil, fail(CodeTruncated, err)
	case err != nil:
		return nil, fail(CodeLLMFailed, err)
	case ctx.Err() != nil:
		return nil, fail(CodeClientDisconnected, ctx.Err())
	}

	doc, err = save(ctx, result.Text)
	if errors.Is(err, ErrVersionConflict) {
		return nil, fail(CodeVersionConflict, err)
	}
	if err != nil {
		return nil, fail(CodeSaveFailed, err)
	}

	if g.archiver != nil {
		g.archiver.Archive(ctx, doc)
	}
	if err := sink.Done(doc); err != nil {
		log.WithError(err).WithField("prd_id", doc.ID).Warn("prd saved but done event not delivered")
	}
	log.WithFields(map[string]interface{}{
		"prd_id":        doc.ID,
		"version":       doc.Version,
		"output_tokens": result.OutputTokens,
	}).Info("prd stream completed")
	return doc, nil
}

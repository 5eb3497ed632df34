package prd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/llm"
)

// memoryStore implements Store for testing
type memoryStore struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*PRD
	revisions map[uuid.UUID][]*Revision
	createErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[uuid.UUID]*PRD{}, revisions: map[uuid.UUID][]*Revision{}}
}

func (s *memoryStore) Create(ctx context.Context, doc *PRD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	doc.Version = 1
	doc.CreatedAt, doc.UpdatedAt = time.Now(), time.Now()
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id uuid.UUID) (*PRD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) ListForUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]*PRD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PRD{}
	for _, doc := range s.docs {
		if opts.WorkspaceID != nil {
			if doc.WorkspaceID != nil && *doc.WorkspaceID == *opts.WorkspaceID {
				out = append(out, doc)
			}
		} else if doc.WorkspaceID == nil && doc.UserID == userID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *memoryStore) UpdateContent(ctx context.Context, id uuid.UUID, expectedVersion int, title, content, instruction string, actorID uuid.UUID) (*PRD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if doc.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	s.revisions[id] = append(s.revisions[id], &Revision{PRDID: id, Version: doc.Version, Content: doc.Content, Instruction: instruction, CreatedBy: &actorID})
	doc.Title, doc.Content = title, content
	doc.Version++
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Title = title
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *memoryStore) ListRevisions(ctx context.Context, id uuid.UUID) ([]*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisions[id], nil
}

type staticMembers map[uuid.UUID][]uuid.UUID

func (m staticMembers) IsMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error) {
	for _, id := range m[workspaceID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// fakeLedger keeps balances in memory keyed by pool
type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	deducts   []string
	refundErr error
}

func poolKey(p credits.Pool) string {
	if p.WorkspaceID != nil {
		return "workspace:" + p.WorkspaceID.String()
	}
	return "personal:" + p.UserID.String()
}

func (l *fakeLedger) Deduct(ctx context.Context, pool credits.Pool, amount int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[poolKey(pool)] < amount {
		return credits.ErrInsufficientCredits
	}
	l.balances[poolKey(pool)] -= amount
	l.deducts = append(l.deducts, reason)
	return nil
}

func (l *fakeLedger) Refund(ctx context.Context, pool credits.Pool, amount int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundErr != nil {
		return l.refundErr
	}
	l.balances[poolKey(pool)] += amount
	return nil
}

func (l *fakeLedger) Grant(ctx context.Context, tx *sql.Tx, pool credits.Pool, amount int64, reason string) error {
	return l.Refund(ctx, pool, amount, reason)
}

func (l *fakeLedger) Balance(ctx context.Context, userID uuid.UUID) (*credits.Balance, error) {
	return &credits.Balance{UserID: userID, Personal: l.balance(credits.PersonalPool(userID))}, nil
}

func (l *fakeLedger) WorkspaceBalance(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	return l.balance(credits.WorkspacePool(workspaceID, uuid.Nil)), nil
}

func (l *fakeLedger) Transactions(ctx context.Context, pool credits.Pool, limit int) ([]*credits.Transaction, error) {
	return nil, nil
}

func (l *fakeLedger) balance(p credits.Pool) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[poolKey(p)]
}

// recordingReconciliations implements credits.ReconciliationStore for testing
type recordingReconciliations struct {
	mu       sync.Mutex
	recorded []*credits.Reconciliation
}

func (r *recordingReconciliations) RecordFailedRefund(ctx context.Context, pool credits.Pool, amount int64, reason, cause string) (*credits.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &credits.Reconciliation{ID: int64(len(r.recorded) + 1), Pool: pool, Amount: amount, Reason: reason, Cause: cause, Status: credits.ReconciliationPending}
	r.recorded = append(r.recorded, rec)
	return rec, nil
}

func (r *recordingReconciliations) Get(ctx context.Context, id int64) (*credits.Reconciliation, error) {
	return nil, credits.ErrReconciliationNotFound
}

func (r *recordingReconciliations) ListPending(ctx context.Context, limit int) ([]*credits.Reconciliation, error) {
	return nil, nil
}

func (r *recordingReconciliations) List(ctx context.Context, status credits.ReconciliationStatus, limit int) ([]*credits.Reconciliation, error) {
	return nil, nil
}

func (r *recordingReconciliations) CountPending(ctx context.Context) (int, error) {
	return len(r.recorded), nil
}

func (r *recordingReconciliations) MarkResolved(ctx context.Context, id int64, note string) error {
	return nil
}

func (r *recordingReconciliations) Settle(ctx context.Context, id int64, note string, refund credits.SettleFunc) error {
	return credits.ErrReconciliationSettled
}

func (r *recordingReconciliations) MarkAttempt(ctx context.Context, id int64, attemptErr error, nextAttemptAt time.Time) error {
	return nil
}

func (r *recordingReconciliations) MarkManual(ctx context.Context, id int64, lastErr string) error {
	return nil
}

// scriptedStreamer replays deltas, then returns err
type scriptedStreamer struct {
	deltas []string
	err    error
	last   llm.Request
}

func (s *scriptedStreamer) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (*llm.Result, error) {
	s.last = req
	var text string
	for _, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		text += d
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{Text: text, StopReason: "end_turn", OutputTokens: int64(len(s.deltas))}, nil
}

// recordingSink collects events; failDeltaAfter > 0 makes the nth delta fail
type recordingSink struct {
	started        *StartEvent
	deltas         []string
	done           *PRD
	errEvent       *ErrorEvent
	failDeltaAfter int
}

func (s *recordingSink) Start(ev StartEvent) error {
	s.started = &ev
	return nil
}

func (s *recordingSink) Delta(text string) error {
	if s.failDeltaAfter > 0 && len(s.deltas) >= s.failDeltaAfter {
		return errors.New("write: broken pipe")
	}
	s.deltas = append(s.deltas, text)
	return nil
}

func (s *recordingSink) Done(doc *PRD) error {
	s.done = doc
	return nil
}

func (s *recordingSink) Error(ev ErrorEvent) error {
	s.errEvent = &ev
	return nil
}

type recordingArchiver struct {
	archived []string
}

func (a *recordingArchiver) Archive(ctx context.Context, doc *PRD) {
	a.archived = append(a.archived, ArchiveKey(doc.ID, doc.Version))
}

type generatorFixture struct {
	store    *memoryStore
	ledger   *fakeLedger
	recon    *recordingReconciliations
	streamer *scriptedStreamer
	archiver *recordingArchiver
	gen      *Generator
	userID   uuid.UUID
	wsID     uuid.UUID
}

func newGeneratorFixture(t *testing.T) *generatorFixture {
	t.Helper()
	f := &generatorFixture{
		store:    newMemoryStore(),
		recon:    &recordingReconciliations{},
		streamer: &scriptedStreamer{deltas: []string{"# Taskly\n", "## Overview\n", "Body"}},
		archiver: &recordingArchiver{},
		userID:   uuid.New(),
		wsID:     uuid.New(),
	}
	f.ledger = &fakeLedger{balances: map[string]int64{
		poolKey(credits.PersonalPool(f.userID)):          3,
		poolKey(credits.WorkspacePool(f.wsID, f.userID)): 10,
	}}
	members := staticMembers{f.wsID: {f.userID}}
	service := NewService(f.store, members)
	refunder := credits.NewRefunder(f.ledger, f.recon, nil, nil)
	f.gen = NewGenerator(service, f.ledger, refunder, f.streamer, GeneratorOptions{Archiver: f.archiver})
	return f
}

func (f *generatorFixture) personal() int64 {
	return f.ledger.balance(credits.PersonalPool(f.userID))
}

func (f *generatorFixture) workspace() int64 {
	return f.ledger.balance(credits.WorkspacePool(f.wsID, f.userID))
}

func TestGenerator_Generate_Success(t *testing.T) {
	f := newGeneratorFixture(t)
	sink := &recordingSink{}

	doc, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "a todo app"}, sink)
	require.NoError(t, err)

	require.NotNil(t, sink.started)
	assert.Equal(t, KindGenerate, sink.started.Kind)
	assert.Equal(t, credits.PoolPersonal, sink.started.Pool)
	assert.Equal(t, []string{"# Taskly\n", "## Overview\n", "Body"}, sink.deltas)
	require.NotNil(t, sink.done)
	assert.Nil(t, sink.errEvent)

	assert.Equal(t, "Taskly", doc.Title)
	assert.Equal(t, "standard", doc.Template)
	assert.Equal(t, int64(2), f.personal())
	assert.Contains(t, f.streamer.last.Prompt, "a todo app")

	saved, err := f.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Taskly\n## Overview\nBody", saved.Content)
	assert.Equal(t, []string{ArchiveKey(doc.ID, 1)}, f.archiver.archived)
}

func TestGenerator_Generate_InsufficientCredits(t *testing.T) {
	f := newGeneratorFixture(t)
	f.ledger.balances[poolKey(credits.PersonalPool(f.userID))] = 0
	sink := &recordingSink{}

	_, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x"}, sink)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
	assert.Nil(t, sink.started)
	assert.Empty(t, sink.deltas)
	assert.Empty(t, f.store.docs)
}

func TestGenerator_Generate_ValidationBeforeDeduct(t *testing.T) {
	f := newGeneratorFixture(t)

	_, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: ""}, &recordingSink{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.ledger.deducts)
}

func TestGenerator_Generate_WorkspaceNonMember(t *testing.T) {
	f := newGeneratorFixture(t)
	stranger := uuid.New()

	_, err := f.gen.Generate(context.Background(), stranger, &GenerateRequest{Idea: "x", WorkspaceID: &f.wsID}, &recordingSink{})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.ledger.deducts)
	assert.Equal(t, int64(10), f.workspace())
}

func TestGenerator_Generate_WorkspacePool(t *testing.T) {
	f := newGeneratorFixture(t)
	sink := &recordingSink{}

	doc, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x", WorkspaceID: &f.wsID}, sink)
	require.NoError(t, err)
	require.NotNil(t, doc.WorkspaceID)
	assert.Equal(t, credits.PoolWorkspace, sink.started.Pool)
	assert.Equal(t, int64(9), f.workspace())
	assert.Equal(t, int64(3), f.personal())
}

func TestGenerator_Generate_FailuresRefund(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *generatorFixture, sink *recordingSink)
		wantCode string
	}{
		{
			name: "llm error mid stream",
			setup: func(f *generatorFixture, sink *recordingSink) {
				f.streamer.err = errors.New("overloaded")
			},
			wantCode: CodeLLMFailed,
		},
		{
			name: "empty completion",
			setup: func(f *generatorFixture, sink *recordingSink) {
				f.streamer.deltas = nil
				f.streamer.err = llm.ErrEmptyCompletion
			},
			wantCode: CodeEmptyCompletion,
		},
		{
			name: "stream ends before message_stop",
			setup: func(f *generatorFixture, sink *recordingSink) {
				f.streamer.err = llm.ErrIncompleteStream
			},
			wantCode: CodeStreamIncomplete,
		},
		{
			name: "completion hits max tokens",
			setup: func(f *generatorFixture, sink *recordingSink) {
				f.streamer.err = llm.ErrMaxTokens
			},
			wantCode: CodeTruncated,
		},
		{
			name: "client disconnect",
			setup: func(f *generatorFixture, sink *recordingSink) {
				sink.failDeltaAfter = 1
			},
			wantCode: CodeClientDisconnected,
		},
		{
			name: "save fails",
			setup: func(f *generatorFixture, sink *recordingSink) {
				f.store.createErr = errors.New("connection reset")
			},
			wantCode: CodeSaveFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGeneratorFixture(t)
			sink := &recordingSink{}
			tt.setup(f, sink)

			_, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x"}, sink)

			var failure *StreamFailure
			require.True(t, errors.As(err, &failure), "err = %v", err)
			assert.Equal(t, tt.wantCode, failure.Code)
			assert.True(t, failure.Refunded)

			require.NotNil(t, sink.errEvent)
			assert.Equal(t, tt.wantCode, sink.errEvent.Code)
			assert.True(t, sink.errEvent.Refunded)
			assert.NotEmpty(t, sink.errEvent.Message)
			assert.Nil(t, sink.done)

			assert.Equal(t, int64(3), f.personal(), "balance restored")
			assert.Empty(t, f.recon.recorded)
			assert.Empty(t, f.archiver.archived)
			assert.Empty(t, f.store.docs, "nothing saved")
		})
	}
}

func TestGenerator_Generate_RefundFailureRecorded(t *testing.T) {
	f := newGeneratorFixture(t)
	f.streamer.err = errors.New("overloaded")
	f.ledger.refundErr = errors.New("database unavailable")
	sink := &recordingSink{}

	_, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x"}, sink)

	var failure *StreamFailure
	require.True(t, errors.As(err, &failure))
	assert.False(t, failure.Refunded)
	require.NotNil(t, sink.errEvent)
	assert.False(t, sink.errEvent.Refunded)

	assert.Equal(t, int64(2), f.personal())
	require.Len(t, f.recon.recorded, 1)
	rec := f.recon.recorded[0]
	assert.Equal(t, int64(1), rec.Amount)
	assert.Equal(t, "refund:generation", rec.Reason)
	assert.Contains(t, rec.Cause, CodeLLMFailed)
}

func TestGenerator_Generate_CancelledContext(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}

	// the stream completes but the request context is gone before saving
	f.gen.streamer = &cancellingStreamer{inner: f.streamer, cancel: cancel}

	_, err := f.gen.Generate(ctx, f.userID, &GenerateRequest{Idea: "x"}, sink)
	var failure *StreamFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, CodeClientDisconnected, failure.Code)
	assert.True(t, failure.Refunded)
	assert.Equal(t, int64(3), f.personal())
	assert.Empty(t, f.store.docs)
}

type cancellingStreamer struct {
	inner  llm.Streamer
	cancel context.CancelFunc
}

func (s *cancellingStreamer) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (*llm.Result, error) {
	result, err := s.inner.Stream(ctx, req, onDelta)
	s.cancel()
	return result, err
}

// blockingStreamer sends one delta, then blocks until the request is cancelled
type blockingStreamer struct {
	started chan struct{}
}

func (s *blockingStreamer) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (*llm.Result, error) {
	if err := onDelta("# Partial"); err != nil {
		return nil, err
	}
	close(s.started)
	<-ctx.Done()
	return nil, fmt.Errorf("llm stream failed: %w", ctx.Err())
}

func TestGenerator_WaitCoversAbortedStreams(t *testing.T) {
	f := newGeneratorFixture(t)
	streamer := &blockingStreamer{started: make(chan struct{})}
	f.gen.streamer = streamer

	require.NoError(t, f.gen.Wait(context.Background()), "idle generator")

	reqCtx, abort := context.WithCancel(context.Background())
	defer abort()
	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() {
		_, err := f.gen.Generate(reqCtx, f.userID, &GenerateRequest{Idea: "x"}, sink)
		done <- err
	}()
	<-streamer.started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.gen.Wait(short), context.DeadlineExceeded)

	abort()
	require.NoError(t, f.gen.Wait(context.Background()))

	err := <-done
	var failure *StreamFailure
	require.True(t, errors.As(err, &failure), "err = %v", err)
	assert.Equal(t, CodeClientDisconnected, failure.Code)
	assert.True(t, failure.Refunded)
	assert.Equal(t, int64(3), f.personal(), "balance restored")
	assert.Empty(t, f.store.docs)
}

func TestGenerator_Revise(t *testing.T) {
	f := newGeneratorFixture(t)
	original, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x", WorkspaceID: &f.wsID}, &recordingSink{})
	require.NoError(t, err)

	member := uuid.New()
	f.gen.service.members = staticMembers{f.wsID: {f.userID, member}}
	f.streamer.deltas = []string{"# Taskly v2\n", "Shorter"}
	sink := &recordingSink{}

	revised, err := f.gen.Revise(context.Background(), member, original.ID, &ReviseRequest{Instruction: "make it shorter"}, sink)
	require.NoError(t, err)

	assert.Equal(t, 2, revised.Version)
	assert.Equal(t, "Taskly v2", revised.Title)
	assert.Equal(t, KindRevise, sink.started.Kind)
	require.NotNil(t, sink.started.PRDID)
	assert.Equal(t, original.ID, *sink.started.PRDID)
	assert.Equal(t, credits.PoolWorkspace, sink.started.Pool)
	assert.Contains(t, f.streamer.last.Prompt, "make it shorter")
	assert.Contains(t, f.streamer.last.Prompt, "# Taskly\n## Overview\nBody")

	revs, _ := f.store.ListRevisions(context.Background(), original.ID)
	require.Len(t, revs, 1)
	assert.Equal(t, 1, revs[0].Version)
	assert.Equal(t, "make it shorter", revs[0].Instruction)
	assert.Contains(t, f.ledger.deducts, "revision:"+original.ID.String())
}

func TestGenerator_Revise_Access(t *testing.T) {
	f := newGeneratorFixture(t)
	personal, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x"}, &recordingSink{})
	require.NoError(t, err)
	workspaceDoc, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "y", WorkspaceID: &f.wsID}, &recordingSink{})
	require.NoError(t, err)
	deducts := len(f.ledger.deducts)

	stranger := uuid.New()
	_, err = f.gen.Revise(context.Background(), stranger, personal.ID, &ReviseRequest{Instruction: "x"}, &recordingSink{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.gen.Revise(context.Background(), stranger, workspaceDoc.ID, &ReviseRequest{Instruction: "x"}, &recordingSink{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.gen.Revise(context.Background(), f.userID, uuid.New(), &ReviseRequest{Instruction: "x"}, &recordingSink{})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, f.ledger.deducts, deducts)
}

func TestGenerator_Revise_VersionConflictRefunds(t *testing.T) {
	f := newGeneratorFixture(t)
	original, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x"}, &recordingSink{})
	require.NoError(t, err)
	before := f.personal()

	f.gen.streamer = &concurrentEditStreamer{inner: f.streamer, store: f.store, id: original.ID}
	sink := &recordingSink{}

	_, err = f.gen.Revise(context.Background(), f.userID, original.ID, &ReviseRequest{Instruction: "x"}, sink)
	var failure *StreamFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, CodeVersionConflict, failure.Code)
	assert.True(t, sink.errEvent.Refunded)
	assert.Equal(t, before, f.personal())
}

// concurrentEditStreamer bumps the stored version while the stream runs
type concurrentEditStreamer struct {
	inner llm.Streamer
	store *memoryStore
	id    uuid.UUID
}

func (s *concurrentEditStreamer) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (*llm.Result, error) {
	s.store.mu.Lock()
	s.store.docs[s.id].Version++
	s.store.mu.Unlock()
	return s.inner.Stream(ctx, req, onDelta)
}

func TestService_AccessRules(t *testing.T) {
	f := newGeneratorFixture(t)
	doc, err := f.gen.Generate(context.Background(), f.userID, &GenerateRequest{Idea: "x", WorkspaceID: &f.wsID}, &recordingSink{})
	require.NoError(t, err)

	member := uuid.New()
	svc := NewService(f.store, staticMembers{f.wsID: {f.userID, member}})

	got, err := svc.Get(context.Background(), member, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	renamed, err := svc.Rename(context.Background(), member, doc.ID, "  New name ")
	require.NoError(t, err)
	assert.Equal(t, "New name", renamed.Title)

	assert.ErrorIs(t, svc.Delete(context.Background(), member, doc.ID), ErrForbidden)
	require.NoError(t, svc.Delete(context.Background(), f.userID, doc.ID))

	_, err = svc.List(context.Background(), uuid.New(), ListOptions{WorkspaceID: &f.wsID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Rename(context.Background(), f.userID, doc.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

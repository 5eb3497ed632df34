package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/billing"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/middleware"
	"github.com/platinummonkey/prdforge/pkg/prd"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

var errNotImplemented = errors.New("not implemented")

const (
	fullToken    = "full"
	readerToken  = "reader"
	testWebhooks = "whsec_test"
)

var testUserID = uuid.MustParse("11111111-1111-4111-8111-111111111111")

// stubAuthenticator accepts fullToken with every scope and readerToken with
// read scopes only
type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(ctx context.Context, credential string) (*auth.AuthContext, error) {
	user := &auth.User{ID: testUserID, Email: "ada@example.com"}
	switch credential {
	case fullToken:
		return &auth.AuthContext{User: user, Scopes: []auth.Scope{auth.ScopeAll}}, nil
	case readerToken:
		return &auth.AuthContext{User: user, Scopes: []auth.Scope{auth.ScopePRDRead, auth.ScopeCreditsRead, auth.ScopeWorkspaceRead, auth.ScopeTokenManage}}, nil
	}
	return nil, auth.ErrInvalidToken
}

type mockGenerator struct {
	generateFunc func(ctx context.Context, userID uuid.UUID, req *prd.GenerateRequest, sink prd.Sink) (*prd.PRD, error)
	reviseFunc   func(ctx context.Context, userID, prdID uuid.UUID, req *prd.ReviseRequest, sink prd.Sink) (*prd.PRD, error)
	costs        prd.Costs
}

func (m *mockGenerator) Generate(ctx context.Context, userID uuid.UUID, req *prd.GenerateRequest, sink prd.Sink) (*prd.PRD, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, userID, req, sink)
	}
	return nil, errNotImplemented
}

func (m *mockGenerator) Revise(ctx context.Context, userID, prdID uuid.UUID, req *prd.ReviseRequest, sink prd.Sink) (*prd.PRD, error) {
	if m.reviseFunc != nil {
		return m.reviseFunc(ctx, userID, prdID, req, sink)
	}
	return nil, errNotImplemented
}

func (m *mockGenerator) Costs() prd.Costs {
	return m.costs
}

type mockPRDService struct {
	getFunc       func(ctx context.Context, userID, id uuid.UUID) (*prd.PRD, error)
	listFunc      func(ctx context.Context, userID uuid.UUID, opts prd.ListOptions) ([]*prd.PRD, error)
	renameFunc    func(ctx context.Context, userID, id uuid.UUID, title string) (*prd.PRD, error)
	deleteFunc    func(ctx context.Context, userID, id uuid.UUID) error
	revisionsFunc func(ctx context.Context, userID, id uuid.UUID) ([]*prd.Revision, error)
}

func (m *mockPRDService) Get(ctx context.Context, userID, id uuid.UUID) (*prd.PRD, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID, id)
	}
	return nil, errNotImplemented
}

func (m *mockPRDService) List(ctx context.Context, userID uuid.UUID, opts prd.ListOptions) ([]*prd.PRD, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID, opts)
	}
	return nil, errNotImplemented
}

func (m *mockPRDService) Rename(ctx context.Context, userID, id uuid.UUID, title string) (*prd.PRD, error) {
	if m.renameFunc != nil {
		return m.renameFunc(ctx, userID, id, title)
	}
	return nil, errNotImplemented
}

func (m *mockPRDService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, userID, id)
	}
	return errNotImplemented
}

func (m *mockPRDService) Revisions(ctx context.Context, userID, id uuid.UUID) ([]*prd.Revision, error) {
	if m.revisionsFunc != nil {
		return m.revisionsFunc(ctx, userID, id)
	}
	return nil, errNotImplemented
}

type mockCredits struct {
	balanceFunc      func(ctx context.Context, userID uuid.UUID) (*credits.Balance, error)
	transactionsFunc func(ctx context.Context, pool credits.Pool, limit int) ([]*credits.Transaction, error)
}

func (m *mockCredits) Balance(ctx context.Context, userID uuid.UUID) (*credits.Balance, error) {
	if m.balanceFunc != nil {
		return m.balanceFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockCredits) Transactions(ctx context.Context, pool credits.Pool, limit int) ([]*credits.Transaction, error) {
	if m.transactionsFunc != nil {
		return m.transactionsFunc(ctx, pool, limit)
	}
	return nil, errNotImplemented
}

// mockWorkspaceService implements workspaces.Service for testing
type mockWorkspaceService struct {
	createWorkspaceFunc  func(ctx context.Context, ownerID uuid.UUID, req *workspaces.CreateWorkspaceRequest) (*workspaces.Workspace, error)
	getWorkspaceFunc     func(ctx context.Context, id, actorID uuid.UUID) (*workspaces.Workspace, error)
	listWorkspacesFunc   func(ctx context.Context, userID uuid.UUID) ([]*workspaces.Workspace, error)
	renameWorkspaceFunc  func(ctx context.Context, id, actorID uuid.UUID, name string) (*workspaces.Workspace, error)
	deleteWorkspaceFunc  func(ctx context.Context, id, actorID uuid.UUID) error
	listMembersFunc      func(ctx context.Context, id, actorID uuid.UUID) ([]*workspaces.Member, error)
	isMemberFunc         func(ctx context.Context, id, userID uuid.UUID) (bool, error)
	removeMemberFunc     func(ctx context.Context, id, actorID, userID uuid.UUID) error
	leaveWorkspaceFunc   func(ctx context.Context, id, userID uuid.UUID) error
	createInvitationFunc func(ctx context.Context, id, actorID uuid.UUID, req *workspaces.InviteMemberRequest) (*workspaces.Invitation, error)
	acceptInvitationFunc func(ctx context.Context, token string, userID uuid.UUID) (*workspaces.Member, error)
	listInvitationsFunc  func(ctx context.Context, id, actorID uuid.UUID) ([]*workspaces.Invitation, error)
	revokeInvitationFunc func(ctx context.Context, id, actorID, invitationID uuid.UUID) error
}

func (m *mockWorkspaceService) CreateWorkspace(ctx context.Context, ownerID uuid.UUID, req *workspaces.CreateWorkspaceRequest) (*workspaces.Workspace, error) {
	if m.createWorkspaceFunc != nil {
		return m.createWorkspaceFunc(ctx, ownerID, req)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) GetWorkspace(ctx context.Context, id, actorID uuid.UUID) (*workspaces.Workspace, error) {
	if m.getWorkspaceFunc != nil {
		return m.getWorkspaceFunc(ctx, id, actorID)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]*workspaces.Workspace, error) {
	if m.listWorkspacesFunc != nil {
		return m.listWorkspacesFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) RenameWorkspace(ctx context.Context, id, actorID uuid.UUID, name string) (*workspaces.Workspace, error) {
	if m.renameWorkspaceFunc != nil {
		return m.renameWorkspaceFunc(ctx, id, actorID, name)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) DeleteWorkspace(ctx context.Context, id, actorID uuid.UUID) error {
	if m.deleteWorkspaceFunc != nil {
		return m.deleteWorkspaceFunc(ctx, id, actorID)
	}
	return errNotImplemented
}

func (m *mockWorkspaceService) ListMembers(ctx context.Context, id, actorID uuid.UUID) ([]*workspaces.Member, error) {
	if m.listMembersFunc != nil {
		return m.listMembersFunc(ctx, id, actorID)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) GetMember(ctx context.Context, id, userID uuid.UUID) (*workspaces.Member, error) {
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) IsMember(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	if m.isMemberFunc != nil {
		return m.isMemberFunc(ctx, id, userID)
	}
	return false, errNotImplemented
}

func (m *mockWorkspaceService) RemoveMember(ctx context.Context, id, actorID, userID uuid.UUID) error {
	if m.removeMemberFunc != nil {
		return m.removeMemberFunc(ctx, id, actorID, userID)
	}
	return errNotImplemented
}

func (m *mockWorkspaceService) LeaveWorkspace(ctx context.Context, id, userID uuid.UUID) error {
	if m.leaveWorkspaceFunc != nil {
		return m.leaveWorkspaceFunc(ctx, id, userID)
	}
	return errNotImplemented
}

func (m *mockWorkspaceService) CreateInvitation(ctx context.Context, id, actorID uuid.UUID, req *workspaces.InviteMemberRequest) (*workspaces.Invitation, error) {
	if m.createInvitationFunc != nil {
		return m.createInvitationFunc(ctx, id, actorID, req)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*workspaces.Member, error) {
	if m.acceptInvitationFunc != nil {
		return m.acceptInvitationFunc(ctx, token, userID)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) ListInvitations(ctx context.Context, id, actorID uuid.UUID) ([]*workspaces.Invitation, error) {
	if m.listInvitationsFunc != nil {
		return m.listInvitationsFunc(ctx, id, actorID)
	}
	return nil, errNotImplemented
}

func (m *mockWorkspaceService) RevokeInvitation(ctx context.Context, id, actorID, invitationID uuid.UUID) error {
	if m.revokeInvitationFunc != nil {
		return m.revokeInvitationFunc(ctx, id, actorID, invitationID)
	}
	return errNotImplemented
}

func (m *mockWorkspaceService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	return 0, errNotImplemented
}

// mockBillingService implements billing.Service for testing
type mockBillingService struct {
	handleEventFunc     func(ctx context.Context, payload []byte) (*billing.Result, error)
	getSubscriptionFunc func(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error)
	listPurchasesFunc   func(ctx context.Context, userID uuid.UUID, limit int) ([]*billing.Purchase, error)
}

func (m *mockBillingService) HandleEvent(ctx context.Context, payload []byte) (*billing.Result, error) {
	if m.handleEventFunc != nil {
		return m.handleEventFunc(ctx, payload)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) GetSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	if m.getSubscriptionFunc != nil {
		return m.getSubscriptionFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) ListPurchases(ctx context.Context, userID uuid.UUID, limit int) ([]*billing.Purchase, error) {
	if m.listPurchasesFunc != nil {
		return m.listPurchasesFunc(ctx, userID, limit)
	}
	return nil, errNotImplemented
}

type mockTokenService struct {
	createTokenFunc func(ctx context.Context, userID uuid.UUID, req *auth.CreateTokenRequest) (*auth.APIToken, string, error)
	listTokensFunc  func(ctx context.Context, userID uuid.UUID) ([]*auth.APIToken, error)
	revokeTokenFunc func(ctx context.Context, userID, tokenID uuid.UUID) error
}

func (m *mockTokenService) CreateToken(ctx context.Context, userID uuid.UUID, req *auth.CreateTokenRequest) (*auth.APIToken, string, error) {
	if m.createTokenFunc != nil {
		return m.createTokenFunc(ctx, userID, req)
	}
	return nil, "", errNotImplemented
}

func (m *mockTokenService) ListUserTokens(ctx context.Context, userID uuid.UUID) ([]*auth.APIToken, error) {
	if m.listTokensFunc != nil {
		return m.listTokensFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

func (m *mockTokenService) RevokeToken(ctx context.Context, userID, tokenID uuid.UUID) error {
	if m.revokeTokenFunc != nil {
		return m.revokeTokenFunc(ctx, userID, tokenID)
	}
	return errNotImplemented
}

// denyLimiter rejects every request
type denyLimiter struct {
	calls int
}

func (l *denyLimiter) Take(ctx context.Context, key string) (middleware.Decision, error) {
	l.calls++
	return middleware.Decision{Limit: 1, RetryAfter: time.Minute}, nil
}

// testDeps returns Dependencies backed by empty mocks
func testDeps() Dependencies {
	return Dependencies{
		Authenticator: stubAuthenticator{},
		Generator:     &mockGenerator{costs: prd.Costs{Generation: 2, Revision: 1}},
		PRDs:          &mockPRDService{},
		Credits:       &mockCredits{},
		Workspaces:    &mockWorkspaceService{},
		Billing:       &mockBillingService{},
		Tokens:        &mockTokenService{},
		WebhookSecret: testWebhooks,
	}
}

func doRequest(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), "body: %s", w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, w, &body)
	return body.Code
}

type sseFrame struct {
	Event string
	Data  string
}

// parseSSE splits a recorded event stream into frames
func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, "body: %s", w.Body.String())
}


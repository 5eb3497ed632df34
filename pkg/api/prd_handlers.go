package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/prd"
)

const (
	defaultPRDPageSize = 20
	maxPRDPageSize     = 100
)

// PRDHandlers handles PRD generation, revision and management
type PRDHandlers struct {
	generator PRDGenerator
	prds      PRDService
	limit     func(http.Handler) http.Handler
}

// NewPRDHandlers creates PRD handlers. limit, when not nil, wraps the two
// metered endpoints.
func NewPRDHandlers(generator PRDGenerator, prds PRDService, limit func(http.Handler) http.Handler) *PRDHandlers {
	return &PRDHandlers{
		generator: generator,
		prds:      prds,
		limit:     limit,
	}
}

// RegisterRoutes registers PRD routes
func (h *PRDHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/prds", scoped(auth.ScopePRDWrite, h.Generate, h.limit)).Methods("POST")
	router.Handle("/prds", scoped(auth.ScopePRDRead, h.List)).Methods("GET")
	router.Handle("/prds/{id}", scoped(auth.ScopePRDRead, h.Get)).Methods("GET")
	router.Handle("/prds/{id}", scoped(auth.ScopePRDWrite, h.Rename)).Methods("PATCH")
	router.Handle("/prds/{id}", scoped(auth.ScopePRDWrite, h.Delete)).Methods("DELETE")
	router.Handle("/prds/{id}/revise", scoped(auth.ScopePRDWrite, h.Revise, h.limit)).Methods("POST")
	router.Handle("/prds/{id}/revisions", scoped(auth.ScopePRDRead, h.Revisions)).Methods("GET")
}

// Generate streams a new PRD as Server-Sent Events
func (h *PRDHandlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req prd.GenerateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sse, err := httputil.NewSSEWriter(w)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_, err = h.generator.Generate(r.Context(), currentUser(r), &req, &sseSink{sse: sse})
	finishStream(w, r, sse, err)
}

// Revise streams a revision of an existing PRD as Server-Sent Events
func (h *PRDHandlers) Revise(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req prd.ReviseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sse, err := httputil.NewSSEWriter(w)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_, err = h.generator.Revise(r.Context(), currentUser(r), id, &req, &sseSink{sse: sse})
	finishStream(w, r, sse, err)
}

// List lists personal PRDs, or a workspace's PRDs with ?workspace_id=
func (h *PRDHandlers) List(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := httputil.ParseQueryUUID(r, "workspace_id")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	page, err := httputil.ParsePagination(r, defaultPRDPageSize, maxPRDPageSize)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	docs, err := h.prds.List(r.Context(), currentUser(r), prd.ListOptions{
		WorkspaceID: workspaceID,
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*prd.PRD{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"prds":   docs,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// Get returns one PRD with its content
func (h *PRDHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.prds.Get(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

type renameRequest struct {
	Title string `json:"title"`
}

// Rename changes a PRD's title
func (h *PRDHandlers) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req renameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	doc, err := h.prds.Rename(r.Context(), currentUser(r), id, req.Title)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// Delete removes a PRD and its history
func (h *PRDHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.prds.Delete(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Revisions lists the previous versions of a PRD, newest first
func (h *PRDHandlers) Revisions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	revs, err := h.prds.Revisions(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if revs == nil {
		revs = []*prd.Revision{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"revisions": revs})
}

// finishStream reports a generation error. Once the stream has started the
// client already received an error frame, so nothing more is written.
func finishStream(w http.ResponseWriter, r *http.Request, sse *httputil.SSEWriter, err error) {
	if err == nil {
		return
	}
	var failure *prd.StreamFailure
	if errors.As(err, &failure) {
		return
	}
	if sse.Started() {
		observability.FromContext(r.Context()).WithError(err).Error("stream ended without an error frame")
		return
	}
	writeServiceError(w, r, err)
}

type deltaEvent struct {
	Text string `json:"text"`
}

// sseSink forwards generation events to the client as SSE frames
type sseSink struct {
	sse *httputil.SSEWriter
}

func (s *sseSink) Start(ev prd.StartEvent) error {
	return s.sse.Send("start", ev)
}

func (s *sseSink) Delta(text string) error {
	return s.sse.Send("delta", deltaEvent{Text: text})
}

func (s *sseSink) Done(doc *prd.PRD) error {
	return s.sse.Send("done", doc)
}

func (s *sseSink) Error(ev prd.ErrorEvent) error {
	return s.sse.Send("error", ev)
}

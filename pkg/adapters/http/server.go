package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/sanitize"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router is the administrative and observation surface served over HTTP.
// *canopy.Router satisfies it.
type Router interface {
	Snapshot() domain.Tree
	Tools() []domain.CapabilityDescriptor
	AddNode(spec graph.NodeSpec) (domain.Tree, error)
	RemoveNode(id string) (domain.Tree, error)
	MoveNode(id, newParentID string) (domain.Tree, error)
	AdmitTool(spec ports.Spec, cfg ports.Config, nodeID string, opts ...graph.AttachOption) (domain.Tree, error)
	RevokeTool(nodeID, tool string, unregister bool) domain.Tree
	NewRun(request string) *domain.RunState
	Stream(ctx context.Context, state *domain.RunState) iter.Seq[domain.Event]
}

// Catalog resolves tool names to their specs for admission.
type Catalog interface {
	Lookup(name string) (ports.Spec, bool)
}

// Server serves a Router.
type Server struct {
	Router   Router
	Catalog  Catalog
	Sessions *session.Manager
	Streams  *StreamManager

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithCatalog enables tool admission by name.
func WithCatalog(c Catalog) Option {
	return func(s *Server) { s.Catalog = c }
}

// WithSessions persists runs that carry a conversation id.
func WithSessions(m *session.Manager) Option {
	return func(s *Server) { s.Sessions = m }
}

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHandler creates the HTTP handler for router.
func NewHandler(router Router, opts ...Option) http.Handler {
	s := &Server{
		Router:  router,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/tree", s.GetTree)
	r.Get("/tools", s.GetTools)

	r.Route("/nodes", func(r chi.Router) {
		r.Post("/", s.AddNode)
		r.Delete("/{nodeID}", s.RemoveNode)
		r.Post("/{nodeID}/move", s.MoveNode)
		r.Post("/{nodeID}/tools", s.AdmitTool)
		r.Delete("/{nodeID}/tools/{tool}", s.RevokeTool)
	})
	r.Delete("/tools/{tool}", s.RevokeTool)

	r.Post("/runs", s.Run)
	r.Post("/runs/stream", s.StreamRun)
	r.Get("/events", s.SubscribeEvents)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.ListConversations)
		r.Get("/{conversationID}", s.GetConversation)
		r.Delete("/{conversationID}", s.DeleteConversation)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "canopy-http",
		"version": canopy.Version,
	})
}

// GetTree handles GET /tree.
func (s *Server) GetTree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Router.Snapshot())
}

// GetTools handles GET /tools.
func (s *Server) GetTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Router.Tools())
}

// NodeRequest is the body of POST /nodes.
type NodeRequest struct {
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
	Description string `json:"description"`
	Root        bool   `json:"root"`
	ParentID    string `json:"parent_id"`
	Status      string `json:"status"`
}

// AddNode handles POST /nodes.
func (s *Server) AddNode(w http.ResponseWriter, r *http.Request) {
	var body NodeRequest
	if !decode(w, r, &body) {
		return
	}
	tree, err := s.Router.AddNode(graph.NodeSpec{
		ID:          body.ID,
		Instruction: body.Instruction,
		Description: body.Description,
		Root:        body.Root,
		ParentID:    body.ParentID,
		Status:      body.Status,
	})
	if err != nil {
		s.fail(w, "AddNode", err)
		return
	}
	writeJSON(w, http.StatusCreated, tree)
}

// RemoveNode handles DELETE /nodes/{nodeID}.
func (s *Server) RemoveNode(w http.ResponseWriter, r *http.Request) {
	tree, err := s.Router.RemoveNode(chi.URLParam(r, "nodeID"))
	if err != nil {
		s.fail(w, "RemoveNode", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// MoveRequest is the body of POST /nodes/{nodeID}/move.
type MoveRequest struct {
	ParentID string `json:"parent_id"`
}

// MoveNode handles POST /nodes/{nodeID}/move.
func (s *Server) MoveNode(w http.ResponseWriter, r *http.Request) {
	var body MoveRequest
	if !decode(w, r, &body) {
		return
	}
	tree, err := s.Router.MoveNode(chi.URLParam(r, "nodeID"), body.ParentID)
	if err != nil {
		s.fail(w, "MoveNode", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// AdmitRequest is the body of POST /nodes/{nodeID}/tools.
type AdmitRequest struct {
	Tool         string         `json:"tool"`
	Config       map[string]any `json:"config,omitempty"`
	Predecessors []string       `json:"predecessors,omitempty"`
	Downstream   string         `json:"downstream,omitempty"`
}

// AdmitTool handles POST /nodes/{nodeID}/tools.
func (s *Server) AdmitTool(w http.ResponseWriter, r *http.Request) {
	var body AdmitRequest
	if !decode(w, r, &body) {
		return
	}
	if s.Catalog == nil {
		http.Error(w, "tool admission is not enabled", http.StatusNotImplemented)
		return
	}
	spec, ok := s.Catalog.Lookup(body.Tool)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown tool %q", body.Tool), http.StatusNotFound)
		return
	}

	var opts []graph.AttachOption
	if len(body.Predecessors) > 0 {
		opts = append(opts, graph.WithPredecessors(body.Predecessors...))
	}
	if body.Downstream != "" {
		opts = append(opts, graph.WithDownstream(body.Downstream))
	}

	tree, err := s.Router.AdmitTool(spec, ports.Config(body.Config), chi.URLParam(r, "nodeID"), opts...)
	if err != nil {
		s.fail(w, "AdmitTool", err)
		return
	}
	writeJSON(w, http.StatusCreated, tree)
}

// RevokeTool handles DELETE /nodes/{nodeID}/tools/{tool} and DELETE /tools/{tool}.
// ?unregister=true also removes the tool from the registry.
func (s *Server) RevokeTool(w http.ResponseWriter, r *http.Request) {
	unregister, _ := strconv.ParseBool(r.URL.Query().Get("unregister"))
	tree := s.Router.RevokeTool(chi.URLParam(r, "nodeID"), chi.URLParam(r, "tool"), unregister)
	writeJSON(w, http.StatusOK, tree)
}

// RunRequest is the body of POST /runs and POST /runs/stream.
type RunRequest struct {
	Request        string `json:"request"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RunResponse summarises a finished run.
type RunResponse struct {
	State  *domain.RunState `json:"state"`
	Events []domain.Event   `json:"events"`
	Error  string           `json:"error,omitempty"`
}

// Run handles POST /runs: it drives the run to completion and returns every event.
func (s *Server) Run(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if !decode(w, r, &body) {
		return
	}

	resp := RunResponse{Events: []domain.Event{}}
	state, err := s.execute(r.Context(), body, func(ev domain.Event) bool {
		resp.Events = append(resp.Events, ev)
		return true
	})
	if state == nil {
		s.fail(w, "Run", err)
		return
	}
	if err != nil {
		s.logger.Error("Run: failed to persist", "conversation_id", body.ConversationID, "err", err)
	}

	resp.State = state
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// StreamRun handles POST /runs/stream, writing each event as Server-Sent Events.
// The final state is sent as a "done" event.
func (s *Server) StreamRun(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	var body RunRequest
	if !decode(w, r, &body) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	state, err := s.execute(r.Context(), body, func(ev domain.Event) bool {
		if err := writeEvent(w, string(ev.Kind), ev); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
	if state == nil {
		_ = writeEvent(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}
	_ = writeEvent(w, "done", state)
	flusher.Flush()
}

// execute runs a request, persisting it when a conversation id and a session
// manager are present. onEvent returning false cancels the run.
// The returned state is nil only when the run could not start.
func (s *Server) execute(ctx context.Context, body RunRequest, onEvent func(domain.Event) bool) (*domain.RunState, error) {
	if body.Request == "" {
		return nil, &badRequest{msg: "request is required"}
	}
	request, err := sanitize.Request(body.Request)
	if err != nil {
		return nil, err
	}

	var state *domain.RunState
	drive := func(ctx context.Context) {
		state = s.Router.NewRun(request)
		state.ConversationID = body.ConversationID
		for ev := range s.Router.Stream(ctx, state) {
			s.broadcast(body.ConversationID, ev)
			if !onEvent(ev) {
				break
			}
		}
	}

	if body.ConversationID == "" || s.Sessions == nil {
		drive(ctx)
		return state, nil
	}

	err = s.Sessions.WithLock(ctx, body.ConversationID, func(ctx context.Context) error {
		drive(ctx)
		return s.Sessions.Store().Save(context.WithoutCancel(ctx), body.ConversationID, state)
	})
	return state, err
}

func (s *Server) broadcast(conversationID string, ev domain.Event) {
	if conversationID == "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.Streams.Broadcast(conversationID, string(data))
}

// SubscribeEvents handles GET /events?conversation_id=..., relaying the events
// of runs in that conversation as they happen.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(conversationID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "conversation_id", conversationID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// ListConversations handles GET /conversations.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		s.fail(w, "ListConversations", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// GetConversation handles GET /conversations/{conversationID}.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	state, err := s.Sessions.Load(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.fail(w, "GetConversation", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DeleteConversation handles DELETE /conversations/{conversationID}.
func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	if err := s.Sessions.Delete(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		s.fail(w, "DeleteConversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireSessions(w http.ResponseWriter) bool {
	if s.Sessions == nil {
		http.Error(w, "run persistence is not enabled", http.StatusNotImplemented)
		return false
	}
	return true
}

type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

// StatusCode maps an error to an HTTP status.
func StatusCode(err error) int {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStructure):
		return http.StatusConflict
	case errors.Is(err, domain.ErrContractViolation),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrInputValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Warn(op+" rejected", "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

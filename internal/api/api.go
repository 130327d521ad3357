// Package api exposes the war-room HTTP surface: intake, mesa detail,
// incident workflow, witness dispatch, and the aggregate board.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/dispatch"
	"github.com/veeduria-co/warroom-cli/internal/incident"
	"github.com/veeduria-co/warroom-cli/internal/ingest"
	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/reconcile"
	"github.com/veeduria-co/warroom-cli/internal/store"
	"github.com/veeduria-co/warroom-cli/internal/warroom"
)

// Server bundles the engines behind the HTTP routes.
type Server struct {
	store     store.Store
	ingest    *ingest.Engine
	incidents *incident.Manager
	dispatch  *dispatch.Engine
	warroom   *warroom.Aggregator
}

// New creates the API server.
func New(s store.Store, ing *ingest.Engine, inc *incident.Manager, disp *dispatch.Engine, board *warroom.Aggregator) *Server {
	return &Server{
		store:     s,
		ingest:    ing,
		incidents: inc,
		dispatch:  disp,
		warroom:   board,
	}
}

// Router builds the chi handler with CORS configured for the dashboard.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/ingest/batch", s.handleIngestBatch)

		r.Get("/mesas/{code}", s.handleMesaDetail)
		r.Get("/warroom", s.handleWarroom)

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.handleListIncidents)
			r.Get("/{id}", s.handleGetIncident)
			r.Get("/{id}/candidates", s.handleCandidates)
			r.Post("/{id}/assign", s.handleAssign)
			r.Post("/{id}/resolve", s.handleResolve)
			r.Post("/{id}/escalate", s.handleEscalate)
			r.Post("/{id}/reopen", s.handleReopen)
		})

		r.Route("/assignments/{id}", func(r chi.Router) {
			r.Post("/accept", s.assignmentTransition(s.dispatch.Accept))
			r.Post("/reject", s.assignmentTransition(s.dispatch.Reject))
			r.Post("/complete", s.assignmentTransition(s.dispatch.Complete))
			r.Post("/cancel", s.assignmentTransition(s.dispatch.Cancel))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var sub ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, eris.Wrap(model.ErrMalformedRecord, "api: decode submission"))
		return
	}

	res, err := s.ingest.Ingest(r.Context(), &sub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var subs []ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&subs); err != nil {
		writeError(w, eris.Wrap(model.ErrMalformedRecord, "api: decode batch"))
		return
	}

	res, err := s.ingest.IngestAll(r.Context(), subs, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// mesaDetail is everything the dashboard shows for one mesa: the full
// version history, the latest record per source, check results, the
// cross-source comparison, risk, and incidents.
type mesaDetail struct {
	Mesa        *model.Mesa           `json:"mesa"`
	Records     []model.E14Record     `json:"records"`
	Versions    []model.E14Record     `json:"versions"`
	Validations []model.Validation    `json:"validations"`
	Comparison  *reconcile.Comparison `json:"comparison"`
	Risk        *model.RiskProfile    `json:"risk,omitempty"`
	Incidents   []incident.View       `json:"incidents"`
}

func (s *Server) handleMesaDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	mesa, err := s.store.GetMesa(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.store.ListLatestRecords(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}

	versions, err := s.store.ListRecords(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}

	validations, err := s.store.ListValidations(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}

	comparison, err := s.ingest.Compare(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}

	risk, err := s.store.GetRiskProfile(ctx, code)
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		writeError(w, err)
		return
	}

	incidents, err := s.store.ListIncidents(ctx, store.IncidentFilter{MesaCode: code})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mesaDetail{
		Mesa:        mesa,
		Records:     records,
		Versions:    versions,
		Validations: validations,
		Comparison:  comparison,
		Risk:        risk,
		Incidents:   decorateAll(incidents),
	})
}

func (s *Server) handleWarroom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.warroom.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		MesaCode: q.Get("mesa"),
		Status:   model.IncidentStatus(q.Get("status")),
		Severity: model.Severity(q.Get("severity")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, errBadRequest("limit must be an integer"))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, errBadRequest("offset must be an integer"))
			return
		}
		filter.Offset = n
	}

	incidents, err := s.store.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decorateAll(incidents))
}

// incidentDetail is an incident with its audit trail and assignments.
type incidentDetail struct {
	incident.View
	Events      []model.IncidentEvent `json:"events"`
	Assignments []model.Assignment    `json:"assignments"`
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.store.ListIncidentEvents(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	assignments, err := s.store.ListAssignments(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, incidentDetail{
		View:        incident.Decorate(*inc, time.Now().UTC()),
		Events:      events,
		Assignments: assignments,
	})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inc, err := s.store.GetIncident(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	candidates, err := s.dispatch.Candidates(ctx, inc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WitnessID string `json:"witness_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}

	id := chi.URLParam(r, "id")
	var a *model.Assignment
	var err error
	if req.WitnessID == "" {
		a, err = s.dispatch.AutoAssign(r.Context(), id, req.Reason)
	} else {
		a, err = s.dispatch.Assign(r.Context(), id, req.WitnessID, req.Reason)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	if req.Notes == "" {
		writeError(w, errBadRequest("resolution notes are required"))
		return
	}

	inc, err := s.incidents.Resolve(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident.Decorate(*inc, time.Now().UTC()))
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor   string `json:"actor"`
		Reason  string `json:"reason"`
		ToLegal bool   `json:"to_legal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	if req.Reason == "" {
		writeError(w, errBadRequest("escalation reason is required"))
		return
	}

	inc, err := s.incidents.Escalate(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason, req.ToLegal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident.Decorate(*inc, time.Now().UTC()))
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor   string `json:"actor"`
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}

	inc, err := s.incidents.Reopen(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Summary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, incident.Decorate(*inc, time.Now().UTC()))
}

func (s *Server) assignmentTransition(fn func(ctx context.Context, assignmentID string) (*model.Assignment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func decorateAll(incidents []model.Incident) []incident.View {
	now := time.Now().UTC()
	views := make([]incident.View, 0, len(incidents))
	for _, inc := range incidents {
		views = append(views, incident.Decorate(inc, now))
	}
	return views
}

// badRequestError marks operator input errors for the 400 mapping.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func errBadRequest(msg string) error { return &badRequestError{msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	var badReq *badRequestError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &badReq), eris.Is(err, model.ErrMalformedRecord):
		status = http.StatusBadRequest
	case eris.Is(err, model.ErrNotFound), eris.Is(err, model.ErrUnknownMesa):
		status = http.StatusNotFound
	case eris.Is(err, model.ErrAssignmentConflict),
		eris.Is(err, model.ErrInvalidTransition),
		eris.Is(err, dispatch.ErrNoCoverage):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Package api provides the HTTP admin surface for the sync agent.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/engine"
)

// API wires the admin HTTP handlers for the sync engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates an API from a sync Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Routes(mux)
	return mux
}

// Routes registers all admin routes on the given mux.
func (a *API) Routes(mux *http.ServeMux) {
	// Mutation queue.
	mux.HandleFunc("GET /v1/mutations", a.listMutations)
	mux.HandleFunc("GET /v1/mutations/counts", a.mutationCounts)
	mux.HandleFunc("GET /v1/mutations/{mutationID}", a.getMutation)
	mux.HandleFunc("DELETE /v1/mutations/{mutationID}", a.deleteMutation)

	// Dead-letter set.
	mux.HandleFunc("GET /v1/deadletters", a.listDeadLetters)
	mux.HandleFunc("GET /v1/deadletters/count", a.deadLetterCount)
	mux.HandleFunc("POST /v1/deadletters/recover", a.recoverDeadLetters)
	mux.HandleFunc("POST /v1/deadletters/export", a.exportDeadLetters)
	mux.HandleFunc("POST /v1/deadletters/purge", a.purgeDeadLetters)

	// Status and sync control.
	mux.HandleFunc("GET /v1/status", a.getStatus)
	mux.HandleFunc("POST /v1/sync", a.syncNow)
	mux.HandleFunc("GET /v1/stats", a.stats)
}

// writeJSON encodes v as the response body with the given status.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("api: encode response", slog.String("error", err.Error()))
	}
}

// writeError maps err to an HTTP status and writes an error body.
func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

// statusFor converts sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fitsync.ErrMutationNotFound),
		errors.Is(err, fitsync.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, fitsync.ErrRecoveryInFlight),
		errors.Is(err, fitsync.ErrExportInFlight):
		return http.StatusConflict
	case errors.Is(err, fitsync.ErrInvalidState),
		errors.Is(err, fitsync.ErrUnknownEntityType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// badRequest writes a 400 with the given message.
func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// defaultLimit clamps a requested page size into a sane range.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := a.eng.DeadLetters().Store().ListDeadLetters(r.Context(), deadletter.ListOpts{
		Limit:      defaultLimit(limit),
		Offset:     offset,
		EntityType: mutation.EntityType(q.Get("entity_type")),
	})
	if err != nil {
		a.writeError(w, fmt.Errorf("list dead letters: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) deadLetterCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DeadLetters().Store().CountDeadLetters(r.Context())
	if err != nil {
		a.writeError(w, fmt.Errorf("count dead letters: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, DeadLetterCountResponse{Count: count})
}

func (a *API) recoverDeadLetters(w http.ResponseWriter, r *http.Request) {
	result, err := a.eng.DeadLetters().RecoverAll(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) exportDeadLetters(w http.ResponseWriter, r *http.Request) {
	f, err := a.eng.DeadLetters().Export(r.Context())
	if err != nil && f == nil {
		a.writeError(w, err)
		return
	}

	// A share failure still produced a live file; return it.
	a.writeJSON(w, http.StatusCreated, f)
}

func (a *API) purgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if decErr := json.Unmarshal(body, &req); decErr != nil {
			a.badRequest(w, "invalid purge request body")
			return
		}
	}
	if req.OlderThanHours < 0 {
		a.badRequest(w, "older_than_hours must not be negative")
		return
	}
	if req.OlderThanHours == 0 {
		req.OlderThanHours = 30 * 24
	}

	before := time.Now().UTC().Add(-time.Duration(req.OlderThanHours) * time.Hour)
	count, err := a.eng.DeadLetters().Store().PurgeDeadLetters(r.Context(), before)
	if err != nil {
		a.writeError(w, fmt.Errorf("purge dead letters: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, PurgeResponse{Purged: count})
}

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

func (a *API) listMutations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state := mutation.StatePending
	if s := q.Get("state"); s != "" {
		state = mutation.State(s)
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	muts, err := a.eng.Store().ListMutationsByState(r.Context(), state, mutation.ListOpts{
		Limit:      defaultLimit(limit),
		Offset:     offset,
		EntityType: mutation.EntityType(q.Get("entity_type")),
	})
	if err != nil {
		a.writeError(w, fmt.Errorf("list mutations: %w", err))
		return
	}

	a.writeJSON(w, http.StatusOK, muts)
}

func (a *API) getMutation(w http.ResponseWriter, r *http.Request) {
	mutationID, err := id.ParseMutationID(r.PathValue("mutationID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid mutation ID: %v", err))
		return
	}

	m, err := a.eng.Store().GetMutation(r.Context(), mutationID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, m)
}

func (a *API) deleteMutation(w http.ResponseWriter, r *http.Request) {
	mutationID, err := id.ParseMutationID(r.PathValue("mutationID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid mutation ID: %v", err))
		return
	}

	m, err := a.eng.Store().GetMutation(r.Context(), mutationID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	// An inflight mutation belongs to the worker applying it; a synced one
	// is history managed by retention.
	if m.State != mutation.StatePending && m.State != mutation.StateRetrying && m.State != mutation.StateDead {
		a.badRequest(w, fmt.Sprintf("can only delete pending, retrying, or dead mutations, current state: %s", m.State))
		return
	}

	if delErr := a.eng.Store().DeleteMutation(r.Context(), mutationID); delErr != nil {
		a.writeError(w, fmt.Errorf("delete mutation: %w", delErr))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) mutationCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.countByState(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, counts)
}

// countByState collects per-state queue counts from the store.
func (a *API) countByState(r *http.Request) (MutationCountsResponse, error) {
	var resp MutationCountsResponse

	states := []mutation.State{
		mutation.StatePending,
		mutation.StateInflight,
		mutation.StateSynced,
		mutation.StateRetrying,
		mutation.StateDead,
	}

	for _, state := range states {
		count, err := a.eng.Store().CountMutations(r.Context(), mutation.CountOpts{State: state})
		if err != nil {
			return resp, fmt.Errorf("count mutations (%s): %w", state, err)
		}
		switch state {
		case mutation.StatePending:
			resp.Pending = count
		case mutation.StateInflight:
			resp.Inflight = count
		case mutation.StateSynced:
			resp.Synced = count
		case mutation.StateRetrying:
			resp.Retrying = count
		case mutation.StateDead:
			resp.Dead = count
		}
	}

	return resp, nil
}

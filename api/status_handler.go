package api

import (
	"net/http"
)

func (a *API) getStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.eng.Status())
}

func (a *API) syncNow(w http.ResponseWriter, _ *http.Request) {
	a.eng.SyncNow()
	a.writeJSON(w, http.StatusAccepted, SyncResponse{Triggered: true})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.countByState(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	dead, err := a.eng.DeadLetters().Store().CountDeadLetters(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Mutations:   counts,
		DeadLetters: dead,
		Status:      a.eng.Status(),
	})
}

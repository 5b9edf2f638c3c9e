package feewatch

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Routes returns the read-only status API: targets, latest results,
// last-run changes, and attempt history. Mutation happens only through
// batch runs, never over HTTP.
func (m *Monitor) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/targets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Targets())
	})

	r.Get("/api/results/{city}", func(w http.ResponseWriter, req *http.Request) {
		city := chi.URLParam(req, "city")
		result, ok := m.LatestResult(city)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no result for " + city})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/api/changes", func(w http.ResponseWriter, _ *http.Request) {
		snap := m.LastSnapshot()
		if snap == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no batch has run yet"})
			return
		}
		writeJSON(w, http.StatusOK, snap.Summary)
	})

	r.Get("/api/attempts/{city}", func(w http.ResponseWriter, req *http.Request) {
		city := chi.URLParam(req, "city")
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		entries, err := m.AttemptHistory(req.Context(), city, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

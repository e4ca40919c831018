package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"serverwatch/internal/cycle"
	"serverwatch/internal/report"
	"serverwatch/internal/state"
)

type healthzResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitzero"`
	Goroutines    int64     `json:"goroutines"`
	Panics        uint64    `json:"panics"`
}

type serverView struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Players   int    `json:"players"`
	Map       string `json:"map"`
	Indicator string `json:"indicator"`
	Remaining string `json:"remaining"`
}

type serversResponse struct {
	At        time.Time    `json:"at,omitzero"`
	Roster    int          `json:"roster"`
	Responded int          `json:"responded"`
	Servers   []serverView `json:"servers"`
}

func (s *Service) lastSummary() cycle.Summary {
	if p := s.last.Load(); p != nil {
		return *p
	}
	if s.deps.Last != nil {
		return s.deps.Last()
	}
	return cycle.Summary{}
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.deps.StartTime).Seconds(),
		LastCycleAt:   s.lastSummary().At,
	}
	if s.deps.Health != nil {
		c := s.deps.Health()
		resp.Goroutines, resp.Panics = c.Active, c.Panics
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleServers(w http.ResponseWriter, r *http.Request) {
	sum := s.lastSummary()
	now := time.Now()
	resp := serversResponse{
		At:        sum.At,
		Roster:    sum.Roster,
		Responded: sum.Responded,
		Servers:   make([]serverView, 0, len(sum.Records)),
	}
	for _, e := range sum.Records {
		resp.Servers = append(resp.Servers, serverView{
			Key:       e.Key,
			Name:      e.Name,
			Players:   e.Players,
			Map:       e.Map,
			Indicator: report.Indicator(e.Players),
			Remaining: state.RemainingTime(e.MapChangedAt, e.Map, now),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound, "cycle audit storage is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	recs, err := s.deps.Store.RecentCycles(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Schedules == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Schedules())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package web exposes the calendar core over HTTP: occurrence listing,
// conflict checks, occurrence-to-event resolution, series deletion and the
// public ICS feed.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"calevents/internal/config"
	"calevents/internal/engine"
	"calevents/internal/feed"
	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/occid"
	"calevents/internal/recur"
	"calevents/internal/store"
)

// Server provides the HTTP API over an engine.
type Server struct {
	cfg *config.Config
	eng *engine.Engine
	mux *http.ServeMux

	// In-memory cache for /feed.ics so feed readers polling aggressively
	// do not re-expand the whole horizon each time.
	feedMu    sync.RWMutex
	feedCache *feedCache

	now func() time.Time
}

type feedCache struct {
	body      string
	updatedAt time.Time
}

const feedCacheTTL = 30 * time.Second

// NewServer constructs a Server.
func NewServer(cfg *config.Config, eng *engine.Engine) *Server {
	s := &Server{
		cfg: cfg,
		eng: eng,
		mux: http.NewServeMux(),
		now: time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler, with basic auth wrapped around it when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health and the public feed.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/feed.ics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calevents", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("GET /api/events/resolve", s.handleResolve)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /feed.ics", s.handleFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrenceDTO is the JSON view of one occurrence.
type occurrenceDTO struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type occurrencesResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
	RangeStart  time.Time       `json:"range_start"`
	RangeEnd    time.Time       `json:"range_end"`
}

// GET /api/occurrences?start=RFC3339&end=RFC3339[&public=1]
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	start, end, ok := s.parseRange(w, q.Get("start"), q.Get("end"))
	if !ok {
		return
	}

	var (
		occs []model.Occurrence
		err  error
	)
	if q.Get("public") == "1" {
		occs, err = s.eng.ListPublicOccurrences(ctx, start, end)
	} else {
		occs, err = s.eng.ListOccurrences(ctx, start, end)
	}
	if err != nil {
		s.writeEngineError(w, "list occurrences", err)
		return
	}

	dtos := make([]occurrenceDTO, 0, len(occs))
	for _, occ := range occs {
		dtos = append(dtos, occurrenceDTO{
			ID:          occ.ID,
			EventID:     occ.BaseID,
			Title:       occ.Title,
			Description: occ.Description,
			Location:    occ.Location,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
			End:         occ.End,
		})
	}

	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences: dtos,
		RangeStart:  start,
		RangeEnd:    end,
	})
}

type conflictDTO struct {
	EventID string    `json:"event_id"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

type conflictsResponse struct {
	Conflicts []conflictDTO `json:"conflicts"`
}

// GET /api/conflicts?start=&end=&participants=p1,p2[&exclude=eventID]
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	start, end, ok := s.parseRange(w, q.Get("start"), q.Get("end"))
	if !ok {
		return
	}

	participants := splitNonEmpty(q.Get("participants"))

	conflicts, err := s.eng.FindConflicts(ctx, start, end, participants, q.Get("exclude"))
	if err != nil {
		s.writeEngineError(w, "find conflicts", err)
		return
	}

	dtos := make([]conflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		dtos = append(dtos, conflictDTO{EventID: c.EventID, Title: c.Title, Start: c.Start, End: c.End})
	}
	writeJSON(w, http.StatusOK, conflictsResponse{Conflicts: dtos})
}

type eventDTO struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Timezone       string    `json:"timezone"`
	RecurrenceRule string    `json:"recurrence_rule,omitempty"`
	AllDay         bool      `json:"all_day"`
	AccessLevel    string    `json:"access_level"`
	Visibility     string    `json:"visibility"`
	Status         string    `json:"status"`
}

// GET /api/events/resolve?occurrence_id=...
//
// Edit actions on a displayed occurrence route here to find the underlying
// event record, whether the ID is real or synthetic.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	occurrenceID := r.URL.Query().Get("occurrence_id")
	if occurrenceID == "" {
		writeError(w, http.StatusBadRequest, "occurrence_id is required")
		return
	}

	ev, err := s.eng.ResolveBaseEvent(r.Context(), occurrenceID)
	if err != nil {
		s.writeEngineError(w, "resolve occurrence", err)
		return
	}

	writeJSON(w, http.StatusOK, eventDTO{
		ID:             ev.ID,
		Title:          ev.Title,
		Start:          ev.Start,
		End:            ev.End,
		Timezone:       ev.Timezone,
		RecurrenceRule: ev.RecurrenceRule,
		AllDay:         ev.AllDay,
		AccessLevel:    string(ev.Access),
		Visibility:     string(ev.Visibility),
		Status:         string(ev.Status),
	})
}

// DELETE /api/events/{id}
//
// id may be an occurrence ID; the delete always addresses the underlying
// series. A failed delete keeps the series visible: the client must not
// treat it as gone.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	baseID, err := s.eng.ResolveBaseEventID(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "resolve delete target", err)
		return
	}

	if err := s.eng.DeleteSeries(r.Context(), baseID); err != nil {
		s.writeEngineError(w, "delete series", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GET /feed.ics
//
// Public calendar feed, cached briefly.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	s.feedMu.RLock()
	fc := s.feedCache
	s.feedMu.RUnlock()
	if fc != nil && now.Sub(fc.updatedAt) < feedCacheTTL {
		writeICS(w, fc.body)
		return
	}

	body, err := s.BuildFeed(r.Context(), now)
	if err != nil {
		appLog.Error("feed build failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build feed")
		return
	}

	s.feedMu.Lock()
	s.feedCache = &feedCache{body: body, updatedAt: now}
	s.feedMu.Unlock()

	writeICS(w, body)
}

// BuildFeed renders the public feed over the configured horizon. The cron
// snapshot in cmd/calevd uses this too.
func (s *Server) BuildFeed(ctx context.Context, now time.Time) (string, error) {
	start := now.AddDate(0, 0, -1)
	end := now.AddDate(0, 0, s.cfg.FeedHorizonDays)

	occs, err := s.eng.ListPublicOccurrences(ctx, start, end)
	if err != nil {
		return "", err
	}
	return feed.Serialize(s.cfg.FeedName, occs, now), nil
}

func (s *Server) parseRange(w http.ResponseWriter, startRaw, endRaw string) (time.Time, time.Time, bool) {
	if startRaw == "" || endRaw == "" {
		writeError(w, http.StatusBadRequest, "start and end are required (RFC3339)")
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, recur.ErrInvalidRange),
		errors.Is(err, recur.ErrBadRule),
		errors.Is(err, occid.ErrMalformedID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api "+op+" failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeICS(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

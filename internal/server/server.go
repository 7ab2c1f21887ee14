// Package server exposes the ping ingestion endpoints and the management API.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pilgrim-12/cronowl-sub001/internal/config"
	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
	"github.com/pilgrim-12/cronowl-sub001/internal/engine"
	"github.com/pilgrim-12/cronowl-sub001/internal/probe"
	"github.com/pilgrim-12/cronowl-sub001/internal/ratelimit"
	"github.com/pilgrim-12/cronowl-sub001/internal/schedule"
)

// ServerStore defines the storage queries the server needs.
type ServerStore interface {
	CreateCheck(ctx context.Context, c domain.Check) error
	GetCheck(ctx context.Context, id string) (*domain.Check, error)
	GetCheckBySlug(ctx context.Context, slug string) (*domain.Check, error)
	ListChecksByOwner(ctx context.Context, ownerID string) ([]domain.Check, error)
	CountChecksByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateCheck(ctx context.Context, c domain.Check) error
	DeleteCheck(ctx context.Context, id string) error
	ListPings(ctx context.Context, checkID string, limit, offset int) ([]domain.Ping, int, error)
	ListStatusEvents(ctx context.Context, kind domain.EntityKind, entityID string, limit int) ([]domain.StatusEvent, error)

	CreateMonitor(ctx context.Context, m domain.HttpMonitor) error
	GetMonitor(ctx context.Context, id string) (*domain.HttpMonitor, error)
	ListMonitorsByOwner(ctx context.Context, ownerID string) ([]domain.HttpMonitor, error)
	CountMonitorsByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateMonitor(ctx context.Context, m domain.HttpMonitor) error
	DeleteMonitor(ctx context.Context, id string) error
	ListMonitorChecks(ctx context.Context, monitorID string, limit, offset int) ([]domain.MonitorCheck, int, error)
	MonitorWindowStats(ctx context.Context, monitorID string, since time.Time) (uptimePct, avgMs *float64, err error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	store       ServerStore
	checks      *engine.CheckMachine
	prober      engine.Prober
	sweeper     *engine.Sweeper
	pingLimiter *ratelimit.Limiter
	limits      config.LimitsConfig
	router      chi.Router
	logger      *slog.Logger

	allowPrivate bool
}

// New creates a new Server and registers all routes. Pass nil logger to use
// the default logger.
func New(store ServerStore, checks *engine.CheckMachine, prober engine.Prober, sweeper *engine.Sweeper, limits config.LimitsConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:       store,
		checks:      checks,
		prober:      prober,
		sweeper:     sweeper,
		pingLimiter: ratelimit.New(limits.PingRatePerMinute, time.Minute),
		limits:      limits,
		router:      chi.NewRouter(),
		logger:      logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

// SetAllowPrivateTargets disables monitor target validation at create and
// update time, matching the probe executor's setting of the same name.
func (s *Server) SetAllowPrivateTargets(allow bool) {
	s.allowPrivate = allow
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Ping ingestion. GET is allowed so a bare curl in a crontab works.
	r.Get("/ping/{slug}", s.handlePing(domain.PingRun))
	r.Post("/ping/{slug}", s.handlePing(domain.PingRun))
	r.Get("/ping/{slug}/start", s.handlePing(domain.PingStart))
	r.Post("/ping/{slug}/start", s.handlePing(domain.PingStart))
	r.Get("/ping/{slug}/fail", s.handlePing(domain.PingFail))
	r.Post("/ping/{slug}/fail", s.handlePing(domain.PingFail))

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/sweep", s.handleSweep)

	r.Route("/api/checks", func(r chi.Router) {
		r.Post("/", s.handleCreateCheck)
		r.Get("/", s.handleListChecks)
		r.Get("/{id}", s.handleGetCheck)
		r.Put("/{id}", s.handleUpdateCheck)
		r.Delete("/{id}", s.handleDeleteCheck)
		r.Post("/{id}/pause", s.handleSetCheckPaused(true))
		r.Post("/{id}/resume", s.handleSetCheckPaused(false))
		r.Get("/{id}/pings", s.handleListCheckPings)
		r.Get("/{id}/events", s.handleCheckEvents)
	})

	r.Route("/api/monitors", func(r chi.Router) {
		r.Post("/", s.handleCreateMonitor)
		r.Get("/", s.handleListMonitors)
		r.Get("/{id}", s.handleGetMonitor)
		r.Put("/{id}", s.handleUpdateMonitor)
		r.Delete("/{id}", s.handleDeleteMonitor)
		r.Post("/{id}/pause", s.handleSetMonitorEnabled(false))
		r.Post("/{id}/resume", s.handleSetMonitorEnabled(true))
		r.Get("/{id}/history", s.handleMonitorHistory)
		r.Get("/{id}/events", s.handleMonitorEvents)
		r.Post("/{id}/test", s.handleTestMonitor)
	})
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// ownerID resolves the acting owner. Authentication is out of scope; a
// reverse proxy or gateway is expected to set the header.
func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return "default"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pagination(r *http.Request) (limit, offset int, ok bool) {
	const maxLimit = 1000
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// checkView adds the deadline for the next expected ping to API responses.
// The deadline includes the grace period: it is the moment the check would be
// marked down.
type checkView struct {
	domain.Check
	NextExpectedPing *time.Time `json:"next_expected_ping,omitempty"`
}

func viewCheck(c domain.Check) checkView {
	v := checkView{Check: c}
	if c.LastPingAt == nil {
		return v
	}
	interval, err := schedule.ExpectedInterval(c)
	if err != nil {
		return v
	}
	next := c.LastPingAt.Add(interval + time.Duration(c.GracePeriodMin)*time.Minute)
	v.NextExpectedPing = &next
	return v
}

// monitorView masks sensitive header values before a monitor leaves the API.
func monitorView(m domain.HttpMonitor) domain.HttpMonitor {
	m.Headers = probe.RedactHeaders(m.Headers)
	return m
}

// --- Ping ingestion ---

func (s *Server) handlePing(routeKind domain.PingKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.pingLimiter.Allow(ip) {
			writeError(w, http.StatusTooManyRequests, "ping rate limit exceeded")
			return
		}

		q := r.URL.Query()
		kind := routeKind
		// The base route also accepts the signal as query meta, for senders
		// that cannot vary the path.
		if kind == domain.PingRun {
			if v := q.Get("start"); v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid start parameter")
					return
				}
				if b {
					kind = domain.PingStart
				}
			}
			switch q.Get("status") {
			case "", "run", "success":
			case "fail":
				kind = domain.PingFail
			default:
				writeError(w, http.StatusBadRequest, "invalid status parameter")
				return
			}
		}

		c, err := s.store.GetCheckBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			s.logger.Error("GetCheckBySlug", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if c == nil {
			writeError(w, http.StatusNotFound, "unknown check")
			return
		}

		p := domain.Ping{
			Timestamp: time.Now().UTC(),
			SourceIP:  ip,
			UserAgent: r.UserAgent(),
			Kind:      kind,
		}
		if v := q.Get("exit_code"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid exit_code parameter")
				return
			}
			p.ExitCode = &n
		}
		if v := q.Get("duration_ms"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid duration_ms parameter")
				return
			}
			p.DurationMs = &n
		}
		if r.Method == http.MethodPost && r.Body != nil {
			body, err := io.ReadAll(io.LimitReader(r.Body, domain.MaxPingOutputBytes))
			if err == nil {
				p.Output = string(body)
			}
		}

		updated, err := s.checks.OnPing(r.Context(), *c, p)
		if err != nil {
			s.logger.Error("OnPing", "check", c.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(updated.Status)})
	}
}

// --- Health and sweep ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper not running")
		return
	}
	summary, err := s.sweeper.Run(r.Context())
	if err != nil {
		s.logger.Error("manual sweep", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Check handlers ---

func (s *Server) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var c domain.Check
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.OwnerID = ownerID(r)
	c.Status = domain.CheckStatusNew
	c.LastPingAt = nil
	c.LastDurationMs = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Slug == "" {
		c.Slug = uuid.NewString()
	}

	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := schedule.ValidateSchedule(c.Schedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := s.store.CountChecksByOwner(r.Context(), c.OwnerID)
	if err != nil {
		s.logger.Error("CountChecksByOwner", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if count >= s.limits.MaxChecksPerOwner {
		writeError(w, http.StatusUnprocessableEntity, "check limit reached")
		return
	}

	if existing, err := s.store.GetCheckBySlug(r.Context(), c.Slug); err != nil {
		s.logger.Error("GetCheckBySlug", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "slug already in use")
		return
	}

	if err := s.store.CreateCheck(r.Context(), c); err != nil {
		s.logger.Error("CreateCheck", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := s.store.ListChecksByOwner(r.Context(), ownerID(r))
	if err != nil {
		s.logger.Error("ListChecksByOwner", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]checkView, 0, len(checks))
	for _, c := range checks {
		views = append(views, viewCheck(c))
	}
	writeJSON(w, http.StatusOK, views)
}

// loadCheck fetches the check in the URL, writing the error response itself
// when the check cannot be served.
func (s *Server) loadCheck(w http.ResponseWriter, r *http.Request) *domain.Check {
	c, err := s.store.GetCheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("GetCheck", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if c == nil || c.OwnerID != ownerID(r) {
		writeError(w, http.StatusNotFound, "check not found")
		return nil
	}
	return c
}

func (s *Server) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	c := s.loadCheck(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, viewCheck(*c))
}

func (s *Server) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	existing := s.loadCheck(w, r)
	if existing == nil {
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Runtime state is owned by the engine, not the API.
	updated.ID = existing.ID
	updated.OwnerID = existing.OwnerID
	updated.Status = existing.Status
	updated.LastPingAt = existing.LastPingAt
	updated.LastDurationMs = existing.LastDurationMs
	updated.CreatedAt = existing.CreatedAt

	if err := updated.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := schedule.ValidateSchedule(updated.Schedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if updated.Slug != existing.Slug {
		if other, err := s.store.GetCheckBySlug(r.Context(), updated.Slug); err != nil {
			s.logger.Error("GetCheckBySlug", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		} else if other != nil {
			writeError(w, http.StatusConflict, "slug already in use")
			return
		}
	}

	if err := s.store.UpdateCheck(r.Context(), updated); err != nil {
		s.logger.Error("UpdateCheck", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	c := s.loadCheck(w, r)
	if c == nil {
		return
	}
	if err := s.store.DeleteCheck(r.Context(), c.ID); err != nil {
		s.logger.Error("DeleteCheck", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCheckPaused(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := s.loadCheck(w, r)
		if c == nil {
			return
		}
		c.Paused = paused
		if err := s.store.UpdateCheck(r.Context(), *c); err != nil {
			s.logger.Error("UpdateCheck", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type pingHistoryResponse struct {
	Pings []domain.Ping `json:"pings"`
	Total int           `json:"total"`
}

func (s *Server) handleListCheckPings(w http.ResponseWriter, r *http.Request) {
	c := s.loadCheck(w, r)
	if c == nil {
		return
	}
	limit, offset, ok := pagination(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}
	pings, total, err := s.store.ListPings(r.Context(), c.ID, limit, offset)
	if err != nil {
		s.logger.Error("ListPings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if pings == nil {
		pings = []domain.Ping{}
	}
	writeJSON(w, http.StatusOK, pingHistoryResponse{Pings: pings, Total: total})
}

func (s *Server) handleCheckEvents(w http.ResponseWriter, r *http.Request) {
	c := s.loadCheck(w, r)
	if c == nil {
		return
	}
	s.writeEvents(w, r, domain.EntityCheck, c.ID)
}

func (s *Server) writeEvents(w http.ResponseWriter, r *http.Request, kind domain.EntityKind, id string) {
	limit, _, ok := pagination(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}
	events, err := s.store.ListStatusEvents(r.Context(), kind, id, limit)
	if err != nil {
		s.logger.Error("ListStatusEvents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []domain.StatusEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Monitor handlers ---

func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var m domain.HttpMonitor
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.OwnerID = ownerID(r)
	m.Status = domain.MonitorStatusPending
	m.ConsecutiveFailures = 0
	m.LastCheckedAt = nil
	m.LastResponseTimeMs = nil
	m.LastStatusCode = nil
	m.LastError = ""
	m.Enabled = true
	m.CreatedAt = now
	m.UpdatedAt = now

	if err := m.Validate(s.limits.MinMonitorIntervalSec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.allowPrivate {
		if err := probe.ValidateTarget(m.URL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	count, err := s.store.CountMonitorsByOwner(r.Context(), m.OwnerID)
	if err != nil {
		s.logger.Error("CountMonitorsByOwner", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if count >= s.limits.MaxMonitorsPerOwner {
		writeError(w, http.StatusUnprocessableEntity, "monitor limit reached")
		return
	}

	if err := s.store.CreateMonitor(r.Context(), m); err != nil {
		s.logger.Error("CreateMonitor", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, monitorView(m))
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := s.store.ListMonitorsByOwner(r.Context(), ownerID(r))
	if err != nil {
		s.logger.Error("ListMonitorsByOwner", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]domain.HttpMonitor, 0, len(monitors))
	for _, m := range monitors {
		views = append(views, monitorView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) loadMonitor(w http.ResponseWriter, r *http.Request) *domain.HttpMonitor {
	m, err := s.store.GetMonitor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("GetMonitor", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if m == nil || m.OwnerID != ownerID(r) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return nil
	}
	return m
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	m := s.loadMonitor(w, r)
	if m == nil {
		return
	}
	pct, avg, err := s.store.MonitorWindowStats(r.Context(), m.ID, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("MonitorWindowStats", "monitor", m.ID, "error", err)
	} else {
		m.UptimePercent24h = pct
		m.AvgResponseTime24h = avg
	}
	writeJSON(w, http.StatusOK, monitorView(*m))
}

func (s *Server) handleUpdateMonitor(w http.ResponseWriter, r *http.Request) {
	existing := s.loadMonitor(w, r)
	if existing == nil {
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated.ID = existing.ID
	updated.OwnerID = existing.OwnerID
	updated.Status = existing.Status
	updated.ConsecutiveFailures = existing.ConsecutiveFailures
	updated.LastCheckedAt = existing.LastCheckedAt
	updated.LastResponseTimeMs = existing.LastResponseTimeMs
	updated.LastStatusCode = existing.LastStatusCode
	updated.LastError = existing.LastError
	updated.CreatedAt = existing.CreatedAt

	if err := updated.Validate(s.limits.MinMonitorIntervalSec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.allowPrivate {
		if err := probe.ValidateTarget(updated.URL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.store.UpdateMonitor(r.Context(), updated); err != nil {
		s.logger.Error("UpdateMonitor", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, monitorView(updated))
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	m := s.loadMonitor(w, r)
	if m == nil {
		return
	}
	if err := s.store.DeleteMonitor(r.Context(), m.ID); err != nil {
		s.logger.Error("DeleteMonitor", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMonitorEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := s.loadMonitor(w, r)
		if m == nil {
			return
		}
		m.Enabled = enabled
		if err := s.store.UpdateMonitor(r.Context(), *m); err != nil {
			s.logger.Error("UpdateMonitor", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, monitorView(*m))
	}
}

type monitorHistoryResponse struct {
	Checks []domain.MonitorCheck `json:"checks"`
	Total  int                   `json:"total"`
}

func (s *Server) handleMonitorHistory(w http.ResponseWriter, r *http.Request) {
	m := s.loadMonitor(w, r)
	if m == nil {
		return
	}
	limit, offset, ok := pagination(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}
	checks, total, err := s.store.ListMonitorChecks(r.Context(), m.ID, limit, offset)
	if err != nil {
		s.logger.Error("ListMonitorChecks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if checks == nil {
		checks = []domain.MonitorCheck{}
	}
	writeJSON(w, http.StatusOK, monitorHistoryResponse{Checks: checks, Total: total})
}

func (s *Server) handleMonitorEvents(w http.ResponseWriter, r *http.Request) {
	m := s.loadMonitor(w, r)
	if m == nil {
		return
	}
	s.writeEvents(w, r, domain.EntityMonitor, m.ID)
}

type testMonitorResponse struct {
	Result  domain.ProbeResult `json:"result"`
	URL     string             `json:"url"`
	Method  string             `json:"method"`
	Headers map[string]string  `json:"headers,omitempty"`
}

// handleTestMonitor runs one probe immediately without touching the monitor's
// state, counters, or history. The echoed configuration is redacted.
func (s *Server) handleTestMonitor(w http.ResponseWriter, r *http.Request) {
	m := s.loadMonitor(w, r)
	if m == nil {
		return
	}
	result, err := s.prober.Execute(r.Context(), *m)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, testMonitorResponse{
		Result:  result,
		URL:     m.URL,
		Method:  m.Method,
		Headers: probe.RedactHeaders(m.Headers),
	})
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

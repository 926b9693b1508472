// Package http provides the HTTP surface owned by the governance
// subsystem: admission checks, reservation finalization, usage stats,
// and the guarded retention trigger. The storefront's own request
// handling lives elsewhere and calls the same app services in-process.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/domain/quota"
)

// Handler provides the HTTP endpoints.
type Handler struct {
	limiter      *app.LimiterService
	retention    *app.RetentionService
	triggerToken string
	metricsPath  string
	logger       zerolog.Logger
}

// HandlerConfig contains dependencies for the handler.
type HandlerConfig struct {
	Limiter      *app.LimiterService
	Retention    *app.RetentionService
	TriggerToken string
	MetricsPath  string // empty disables the metrics endpoint
	Logger       zerolog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		limiter:      cfg.Limiter,
		retention:    cfg.Retention,
		triggerToken: cfg.TriggerToken,
		metricsPath:  cfg.MetricsPath,
		logger:       cfg.Logger,
	}
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/limits/check", h.CheckLimits)
		r.Post("/limits/check-ip", h.CheckIP)
		r.Post("/limits/finalize", h.Finalize)
		r.Get("/usage/{userID}", h.UserStats)
	})

	r.Post("/internal/retention/run", h.RunRetention)

	if h.metricsPath != "" {
		r.Method(http.MethodGet, h.metricsPath, promhttp.Handler())
	}

	return r
}

// -----------------------------------------------------------------------------
// Request/Response Types
// -----------------------------------------------------------------------------

// CheckRequest asks for admission of one metered call.
type CheckRequest struct {
	UserID string `json:"user_id"`
	IP     string `json:"ip"`
	Action string `json:"action"`
}

// RateLimitResult is the admission decision returned to callers.
type RateLimitResult struct {
	Allowed       bool       `json:"allowed"`
	Remaining     int64      `json:"remaining"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Message       string     `json:"message,omitempty"`
	CurrentUsage  int64      `json:"current_usage"`
	ReservationID string     `json:"reservation_id,omitempty"`
}

// FinalizeRequest reports the outcome of the external metered call.
type FinalizeRequest struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
	Action        string `json:"action"`
	Provider      string `json:"provider"`
	TokensUsed    int64  `json:"tokens_used"`
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// UsageStatsResponse summarizes a user's consumption.
type UsageStatsResponse struct {
	UserID           string           `json:"user_id"`
	DailyCount       int64            `json:"daily_count"`
	MonthlyCount     int64            `json:"monthly_count"`
	DailyLimit       int64            `json:"daily_limit"`
	MonthlyLimit     int64            `json:"monthly_limit"`
	DailyRemaining   int64            `json:"daily_remaining"`
	MonthlyRemaining int64            `json:"monthly_remaining"`
	TotalCostMonth   float64          `json:"total_cost_month"`
	RecentActivity   []RecentActivity `json:"recent_activity"`
}

// RecentActivity is one ledger entry for display.
type RecentActivity struct {
	Action    string    `json:"action"`
	Provider  string    `json:"provider,omitempty"`
	Tokens    int64     `json:"tokens"`
	Cost      float64   `json:"cost"`
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RetentionRunResponse reports a completed retention run.
type RetentionRunResponse struct {
	Results    []app.JobResult `json:"results"`
	DurationMs int64           `json:"duration_ms"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CheckLimits runs the admission sequence and reserves on success.
func (h *Handler) CheckLimits(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "user_id and action are required")
		return
	}

	result, err := h.limiter.CheckAndReserve(r.Context(), req.UserID, req.IP, req.Action)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", req.UserID).Msg("admission check failed")
		writeError(w, http.StatusInternalServerError, "admission check failed")
		return
	}

	resp := toRateLimitResult(result.Decision)
	resp.ReservationID = result.ReservationID
	writeJSON(w, http.StatusOK, resp)
}

// CheckIP runs the trailing-hour gate for unauthenticated callers.
func (h *Handler) CheckIP(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IP == "" {
		writeError(w, http.StatusBadRequest, "ip is required")
		return
	}

	decision, err := h.limiter.CheckIP(r.Context(), req.IP)
	if err != nil {
		h.logger.Error().Err(err).Str("ip", req.IP).Msg("ip check failed")
		writeError(w, http.StatusInternalServerError, "ip check failed")
		return
	}
	writeJSON(w, http.StatusOK, toRateLimitResult(decision))
}

// Finalize attributes outcome and cost to a reservation.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReservationID == "" && (req.UserID == "" || req.Action == "") {
		writeError(w, http.StatusBadRequest, "reservation_id or user_id and action are required")
		return
	}

	err := h.limiter.Finalize(r.Context(), app.FinalizeInput{
		ReservationID: req.ReservationID,
		UserID:        req.UserID,
		Action:        req.Action,
		Provider:      req.Provider,
		TokensUsed:    req.TokensUsed,
		Success:       req.Success,
		ErrorMessage:  req.ErrorMessage,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("reservation_id", req.ReservationID).Msg("finalize failed")
		writeError(w, http.StatusInternalServerError, "finalize failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserStats returns windowed counts, cost totals, and recent activity.
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := h.limiter.UserStats(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("user stats failed")
		writeError(w, http.StatusInternalServerError, "user stats failed")
		return
	}

	resp := UsageStatsResponse{
		UserID:           stats.UserID,
		DailyCount:       stats.DailyCount,
		MonthlyCount:     stats.MonthlyCount,
		DailyLimit:       stats.DailyLimit,
		MonthlyLimit:     stats.MonthlyLimit,
		DailyRemaining:   stats.DailyRemaining,
		MonthlyRemaining: stats.MonthlyRemaining,
		TotalCostMonth:   stats.TotalCostMonth,
		RecentActivity:   make([]RecentActivity, 0, len(stats.RecentActivity)),
	}
	for _, e := range stats.RecentActivity {
		resp.RecentActivity = append(resp.RecentActivity, RecentActivity{
			Action:    e.Action,
			Provider:  e.Provider,
			Tokens:    e.TokensUsed,
			Cost:      e.Cost,
			Success:   e.Success,
			Status:    string(e.Status),
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunRetention triggers a full retention run. Guarded by the configured
// token; 401 on mismatch.
func (h *Handler) RunRetention(w http.ResponseWriter, r *http.Request) {
	if h.triggerToken == "" || !tokenMatches(r, h.triggerToken) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	report := h.retention.RunAll(r.Context())
	writeJSON(w, http.StatusOK, RetentionRunResponse{
		Results:    report.Results,
		DurationMs: report.Duration.Milliseconds(),
	})
}

// tokenMatches compares the bearer or query token in constant time.
func tokenMatches(r *http.Request, want string) bool {
	got := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			got = t
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func toRateLimitResult(d quota.Decision) RateLimitResult {
	resp := RateLimitResult{
		Allowed:      d.Allowed,
		Remaining:    d.Remaining,
		Reason:       string(d.Reason),
		Message:      d.Message,
		CurrentUsage: d.CurrentUsage,
	}
	if !d.ResetAt.IsZero() {
		t := d.ResetAt
		resp.ResetAt = &t
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

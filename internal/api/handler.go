package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store    domain.FeatureStore
	cache    domain.Cache
	bus      domain.EventBus
	profiles *profile.Service
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(store domain.FeatureStore, cache domain.Cache, bus domain.EventBus, profiles *profile.Service, engine *rules.Engine, version string) *Handler {
	return &Handler{
		store:    store,
		cache:    cache,
		bus:      bus,
		profiles: profiles,
		engine:   engine,
		version:  version,
	}
}

// EvaluateResponse is the response for POST /transaction/evaluate.
type EvaluateResponse struct {
	TransactionID  json.RawMessage `json:"transaction_id"`
	Recommendation string          `json:"recommendation"`
	Reason         string          `json:"reason"`
	Rule           string          `json:"rule,omitempty"`
	EvaluationID   string          `json:"evaluation_id"`
	Timestamp      string          `json:"timestamp"`
}

// Evaluate handles POST /transaction/evaluate.
//
// Validation failures are 400s and produce no verdict. Once a request
// is structurally complete, the response is always a 200 verdict: a
// profile fetch failure fails closed as a denial, never a 5xx.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}

	tx := req.ToTransaction()

	var verdict domain.Verdict
	merged, res, err := h.profiles.Resolve(ctx, tx.UserID)
	if err != nil {
		slog.Error("profile resolution failed",
			"user_id", tx.UserID,
			"error", err,
		)
		verdict = domain.FailClosed(err)
	} else {
		verdict = h.engine.Evaluate(tx, merged)
	}

	evaluationID := uuid.New().String()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	metrics.RecordVerdict(verdict.Recommendation, verdict.Rule)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	h.publishVerdict(tx, verdict, evaluationID, timestamp)

	slog.Info("transaction evaluated",
		"evaluation_id", evaluationID,
		"user_id", tx.UserID,
		"recommendation", verdict.Recommendation,
		"rule", verdict.Rule,
		"cache_hit", res.CacheHit,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, EvaluateResponse{
		TransactionID:  tx.TransactionID,
		Recommendation: verdict.Recommendation,
		Reason:         verdict.Reason,
		Rule:           verdict.Rule,
		EvaluationID:   evaluationID,
		Timestamp:      timestamp,
	})
}

// publishVerdict emits the verdict to the event bus. Best-effort: a
// bus failure is logged and never fails the request.
func (h *Handler) publishVerdict(tx *domain.Transaction, verdict domain.Verdict, evaluationID, timestamp string) {
	if h.bus == nil {
		return
	}

	event := domain.VerdictEvent{
		EvaluationID:   evaluationID,
		TransactionID:  tx.TransactionID,
		UserID:         tx.UserID,
		Recommendation: verdict.Recommendation,
		Reason:         verdict.Reason,
		Rule:           verdict.Rule,
		Amount:         tx.Amount,
		Timestamp:      timestamp,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	// Publishing must not be tied to the request lifetime.
	ctx := context.Background()
	if err := h.bus.Publish(ctx, domain.TopicTransactionEvaluated, payload); err != nil {
		slog.Error("failed to publish verdict", "evaluation_id", evaluationID, "error", err)
	}

	if verdict.Recommendation == domain.RecommendationDeny {
		if err := h.bus.Publish(ctx, domain.TopicTransactionDenied, payload); err != nil {
			slog.Error("failed to publish denial", "evaluation_id", evaluationID, "error", err)
		}
	}
}

// Health returns server health plus dependency checks. Any failing
// check degrades the status and the endpoint answers 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	if h.store != nil {
		checks["feature_store"] = "ok"
		if err := h.store.Ping(ctx); err != nil {
			checks["feature_store"] = err.Error()
			status = "degraded"
		}
	}

	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			status = "degraded"
		}
	}

	if h.bus != nil {
		checks["event_bus"] = "ok"
		if err := h.bus.Ping(ctx); err != nil {
			checks["event_bus"] = err.Error()
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"service": "kestrel",
		"version": h.version,
		"checks":  checks,
	})
}

// ruleView is one entry of the rules listing.
type ruleView struct {
	Position   int    `json:"position"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
}

// ListRules returns the deny chain in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	chain := rules.Chain()
	views := make([]ruleView, len(chain))
	for i, spec := range chain {
		views[i] = ruleView{
			Position:   i + 1,
			Name:       spec.Name,
			Expression: spec.Expression,
			Reason:     spec.Reason,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": views,
		"count": len(views),
	})
}

// GetProfile returns the resolved profile for a user, including which
// fields came from defaults and whether the read was served from cache.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	merged, res, err := h.profiles.Resolve(ctx, userID)
	if err != nil {
		slog.Error("profile resolution failed", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "feature store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          userID,
		"profile":          merged,
		"defaulted_fields": res.DefaultedFields,
		"cached":           res.CacheHit,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

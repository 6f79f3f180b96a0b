package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// stubStore serves a fixed per-user profile map, or fails outright.
type stubStore struct {
	profiles map[int64]*domain.PartialProfile
	err      error
}

func (s *stubStore) UserFeatures(ctx context.Context, userID int64, now time.Time) (*domain.PartialProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return &domain.PartialProfile{}, nil
}

func (s *stubStore) SaveTransaction(ctx context.Context, tx *domain.Transaction) error { return nil }
func (s *stubStore) SeedFromCSV(ctx context.Context, r io.Reader) (int, error)         { return 0, nil }
func (s *stubStore) TransactionCount(ctx context.Context) (int64, error)               { return 0, nil }
func (s *stubStore) Reset(ctx context.Context) error                                   { return nil }

func (s *stubStore) Ping(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	return nil
}

func (s *stubStore) Close() error { return nil }

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

// createTestServer builds a full server on a stub store, LRU cache and
// channel bus.
func createTestServer(t *testing.T, store domain.FeatureStore) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8090,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	profiles := profile.NewService(store, lru, time.Minute)
	return NewServer(cfg, store, lru, eventBus, profiles, engine, "test-v1")
}

func evaluateBody(userID int64, amount float64) []byte {
	body, _ := json.Marshal(map[string]any{
		"transaction_id":     21320398,
		"merchant_id":        29744,
		"user_id":            userID,
		"card_number":        "434505******9116",
		"transaction_date":   "2019-11-30T23:16:32.812632",
		"transaction_amount": amount,
		"device_id":          285475,
	})
	return body
}

func postEvaluate(server *Server, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/transaction/evaluate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateValidation(t *testing.T) {
	server := createTestServer(t, &stubStore{})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := postEvaluate(server, []byte("{not json"))

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "invalid JSON body" {
			t.Errorf("unexpected error message: %q", resp["error"])
		}
	})

	t.Run("MissingFieldsListedInOrder", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction_id":     1,
			"user_id":            2,
			"transaction_amount": 100.0,
			"device_id":          3,
		})
		rr := postEvaluate(server, body)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		want := "Missing required fields: merchant_id, card_number, transaction_date"
		if resp["error"] != want {
			t.Errorf("expected %q, got %q", want, resp["error"])
		}
	})

	t.Run("EmptyBody", func(t *testing.T) {
		rr := postEvaluate(server, []byte("{}"))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !strings.HasPrefix(resp["error"], "Missing required fields: transaction_id") {
			t.Errorf("unexpected error message: %q", resp["error"])
		}
	})

	t.Run("NullFieldCountsAsMissing", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction_id":     nil,
			"merchant_id":        1,
			"user_id":            2,
			"card_number":        "4111",
			"transaction_date":   "2020-01-01T00:00:00.000000",
			"transaction_amount": 100.0,
			"device_id":          3,
		})
		rr := postEvaluate(server, body)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestEvaluateVerdicts(t *testing.T) {
	store := &stubStore{profiles: map[int64]*domain.PartialProfile{
		// chargeback history outranks everything
		1: {LifetimeCbkRate: f64(0.1)},
		// 50 >= 2*20: volume
		2: {TxnsLastHour: i64(50), AvgTxnsPerHour: f64(20)},
		// avg amount 10000: amount 25000 >= 20000 denies on value
		3: {AvgAmount7d: f64(10000)},
		// three cards in two weeks
		4: {DistinctCards2Weeks: i64(3)},
		// bin chargeback ratio at the inclusive boundary
		5: {CardBinCbkRate7d: f64(0.5)},
		// satisfies rules 1 and 3: rule 1 must win
		6: {LifetimeCbkRate: f64(0.2), AvgAmount7d: f64(10)},
	}}
	server := createTestServer(t, store)

	cases := []struct {
		name           string
		userID         int64
		amount         float64
		recommendation string
		reason         string
	}{
		{"ChargebackHistoryDenies", 1, 100, "deny", domain.ReasonChargebackHistory},
		{"VolumeDenies", 2, 100, "deny", domain.ReasonTransactionVolume},
		{"ValueDenies", 3, 25000, "deny", domain.ReasonTransactionValue},
		{"MultipleCardsDenies", 4, 100, "deny", domain.ReasonMultipleCards},
		{"BinRateDenies", 5, 100, "deny", domain.ReasonCardBinChargebacks},
		{"PrecedenceChargebackOverValue", 6, 25000, "deny", domain.ReasonChargebackHistory},
		{"NewUserApproves", 100, 100, "approve", domain.ReasonApproved},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postEvaluate(server, evaluateBody(tc.userID, tc.amount))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}

			var resp EvaluateResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}

			if resp.Recommendation != tc.recommendation {
				t.Errorf("expected %s, got %s (%s)", tc.recommendation, resp.Recommendation, resp.Reason)
			}
			if resp.Reason != tc.reason {
				t.Errorf("expected reason %q, got %q", tc.reason, resp.Reason)
			}
			if string(resp.TransactionID) != "21320398" {
				t.Errorf("transaction id not echoed raw: %s", string(resp.TransactionID))
			}
			if resp.EvaluationID == "" {
				t.Error("expected evaluation id")
			}
			if _, err := time.Parse(time.RFC3339Nano, resp.Timestamp); err != nil {
				t.Errorf("timestamp not RFC3339Nano: %q", resp.Timestamp)
			}
		})
	}

	t.Run("StringTransactionIDEchoedRaw", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction_id":     "tx-abc-001",
			"merchant_id":        1,
			"user_id":            100,
			"card_number":        "4111",
			"transaction_date":   "2020-01-01T00:00:00.000000",
			"transaction_amount": 10.0,
			"device_id":          3,
		})
		rr := postEvaluate(server, body)

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if string(resp.TransactionID) != `"tx-abc-001"` {
			t.Errorf("string id not echoed: %s", string(resp.TransactionID))
		}
	})
}

func TestEvaluateFailsClosed(t *testing.T) {
	store := &stubStore{err: errors.New("connection refused")}
	server := createTestServer(t, store)

	rr := postEvaluate(server, evaluateBody(1, 100))

	// A structurally valid request always yields a verdict
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Recommendation != domain.RecommendationDeny {
		t.Errorf("expected deny, got %s", resp.Recommendation)
	}
	if !strings.HasPrefix(resp.Reason, "Processing error: ") {
		t.Errorf("expected processing error reason, got %q", resp.Reason)
	}
	if resp.Rule != domain.RuleProcessingError {
		t.Errorf("expected processing_error rule, got %q", resp.Rule)
	}
}

func TestEvaluatePublishesVerdict(t *testing.T) {
	store := &stubStore{}
	cfg := domain.ServerConfig{Host: "localhost", Port: 8090, ReadTimeout: 30, WriteTimeout: 30}

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	profiles := profile.NewService(store, cache.NewLRUCache(100), time.Minute)
	server := NewServer(cfg, store, nil, eventBus, profiles, engine, "test-v1")

	events := make(chan *domain.Message, 1)
	eventBus.Subscribe(context.Background(), domain.TopicTransactionEvaluated, func(ctx context.Context, msg *domain.Message) error {
		events <- msg
		return nil
	})

	time.Sleep(20 * time.Millisecond)

	rr := postEvaluate(server, evaluateBody(100, 50))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	select {
	case msg := <-events:
		var event domain.VerdictEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("failed to parse event: %v", err)
		}
		if event.Recommendation != domain.RecommendationApprove {
			t.Errorf("expected approve event, got %s", event.Recommendation)
		}
		if event.UserID != 100 {
			t.Errorf("expected user 100, got %d", event.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for verdict event")
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		server := createTestServer(t, &stubStore{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", resp["status"])
		}
		if resp["service"] != "kestrel" {
			t.Errorf("expected service kestrel, got %v", resp["service"])
		}

		checks, _ := resp["checks"].(map[string]any)
		if checks["feature_store"] != "ok" {
			t.Errorf("expected feature_store ok, got %v", checks["feature_store"])
		}
	})

	t.Run("DegradedReturns503", func(t *testing.T) {
		server := createTestServer(t, &stubStore{err: errors.New("down")})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected degraded, got %v", resp["status"])
		}
	})
}

func TestListRulesEndpoint(t *testing.T) {
	server := createTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Rules []ruleView `json:"rules"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Count != 5 {
		t.Fatalf("expected 5 rules, got %d", resp.Count)
	}
	if resp.Rules[0].Name != rules.RuleChargebackHistory {
		t.Errorf("expected chargeback_history first, got %s", resp.Rules[0].Name)
	}
	if resp.Rules[0].Position != 1 {
		t.Errorf("expected position 1, got %d", resp.Rules[0].Position)
	}
	if resp.Rules[4].Name != rules.RuleCardBinChargebacks {
		t.Errorf("expected card_bin_chargeback_rate last, got %s", resp.Rules[4].Name)
	}
	for _, rv := range resp.Rules {
		if rv.Expression == "" || rv.Reason == "" {
			t.Errorf("rule %s missing expression or reason", rv.Name)
		}
	}
}

func TestGetProfileEndpoint(t *testing.T) {
	store := &stubStore{profiles: map[int64]*domain.PartialProfile{
		42: {DistinctCards2Weeks: i64(2), TxnsLastHour: i64(4)},
	}}
	server := createTestServer(t, store)

	t.Run("KnownUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/profiles/42", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp struct {
			UserID          int64          `json:"user_id"`
			Profile         domain.Profile `json:"profile"`
			DefaultedFields []string       `json:"defaulted_fields"`
			Cached          bool           `json:"cached"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.UserID != 42 {
			t.Errorf("expected user 42, got %d", resp.UserID)
		}
		if resp.Profile.DistinctCards2Weeks != 2 {
			t.Errorf("expected 2 distinct cards, got %d", resp.Profile.DistinctCards2Weeks)
		}
		if len(resp.DefaultedFields) != 4 {
			t.Errorf("expected 4 defaulted fields, got %v", resp.DefaultedFields)
		}
		if resp.Cached {
			t.Error("first read should not be cached")
		}

		// Second read comes from cache
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profiles/42", nil))
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Cached {
			t.Error("second read should be cached")
		}
	})

	t.Run("NonNumericIDIs404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/profiles/alice", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestResponseHeaders(t *testing.T) {
	server := createTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}
	if rr.Header().Get(TraceIDHeader) == "" {
		t.Error("expected X-Trace-ID header")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected echoed request id, got %q", got)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/transaction/evaluate", nil)
		req.Header.Set("Origin", "http://example.com")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204 for preflight, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
			t.Errorf("unexpected allow-origin: %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}

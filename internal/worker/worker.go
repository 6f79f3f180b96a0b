// Package worker provides async transaction evaluation for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Worker evaluates transactions published to the EventBus, mirroring
// the synchronous HTTP path: resolve profile, run the deny chain,
// publish the verdict.
type Worker struct {
	bus      domain.EventBus
	profiles *profile.Service
	engine   *rules.Engine

	subscriptions []domain.Subscription
	jobs          chan *domain.Message
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of goroutines draining the request
	// topic subscription.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, profiles *profile.Service, engine *rules.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		profiles: profiles,
		engine:   engine,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction request topic and spawns the
// evaluation pool. A single subscription feeds all workers so each
// message is evaluated exactly once.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.jobs = make(chan *domain.Message, count*16)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionRequest, func(ctx context.Context, msg *domain.Message) error {
		select {
		case w.jobs <- msg:
		case <-w.ctx.Done():
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	for i := 0; i < count; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-w.ctx.Done():
					return
				case msg := <-w.jobs:
					if msg != nil {
						_ = w.handleMessage(w.ctx, msg)
					}
				}
			}
		}()
	}

	slog.Info("workers started",
		"worker_count", count,
		"topic", domain.TopicTransactionRequest,
	)

	return nil
}

// handleMessage evaluates a single transaction request message.
// Malformed payloads are logged and dropped; they carry no identity
// worth replying to. Profile resolution failures fail closed.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.EvaluateRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Warn("dropping malformed transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		slog.Warn("dropping incomplete transaction message",
			"message_id", msg.ID,
			"missing_fields", strings.Join(missing, ", "),
		)
		return nil
	}

	tx := req.ToTransaction()

	var verdict domain.Verdict
	merged, _, err := w.profiles.Resolve(ctx, tx.UserID)
	if err != nil {
		slog.Error("profile resolution failed",
			"user_id", tx.UserID,
			"error", err,
		)
		verdict = domain.FailClosed(err)
	} else {
		verdict = w.engine.Evaluate(tx, merged)
	}

	metrics.RecordVerdict(verdict.Recommendation, verdict.Rule)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	event := domain.VerdictEvent{
		EvaluationID:   uuid.New().String(),
		TransactionID:  tx.TransactionID,
		UserID:         tx.UserID,
		Recommendation: verdict.Recommendation,
		Reason:         verdict.Reason,
		Rule:           verdict.Rule,
		Amount:         tx.Amount,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
	}

	payload, _ := json.Marshal(event)
	if err := w.bus.Publish(ctx, domain.TopicTransactionEvaluated, payload); err != nil {
		slog.Error("failed to publish verdict",
			"user_id", tx.UserID,
			"error", err,
		)
	}

	if verdict.Recommendation == domain.RecommendationDeny {
		if err := w.bus.Publish(ctx, domain.TopicTransactionDenied, payload); err != nil {
			slog.Error("failed to publish denial",
				"user_id", tx.UserID,
				"error", err,
			)
		}
	}

	slog.Info("transaction evaluated",
		"user_id", tx.UserID,
		"recommendation", verdict.Recommendation,
		"rule", verdict.Rule,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

// Package dispatch drains the message outbox: it claims queued rows, calls
// the WhatsApp provider, and records per-row outcomes.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/circuitbreaker"
	"github.com/orderping/orderping/internal/db"
	"github.com/orderping/orderping/internal/metrics"
	"github.com/orderping/orderping/internal/provider/gupshup"
)

// Repository is the subset of outbox operations the dispatcher uses.
type Repository interface {
	ReclaimStale(ctx context.Context, ttl time.Duration) (int64, error)
	RequeueDue(ctx context.Context) (int64, error)
	ClaimQueued(ctx context.Context, runID string, limit int) ([]*db.DispatchItem, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status db.MessageStatus, attempts int, errorCode *string, nextRetryAt *time.Time) error
}

// TemplateSender places one provider template call.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to, source, templateID string, params []string) (string, error)
}

// Config holds dispatcher tuning.
type Config struct {
	BatchSize    int
	MaxAttempts  int
	ClaimTTL     time.Duration
	SourceNumber string // fallback when the workspace has no WABA number
	PollInterval time.Duration
}

// Dispatcher is the outbox drain job.
type Dispatcher struct {
	repo   Repository
	sender TemplateSender
	config Config
	logger *zap.Logger
}

// New creates a dispatcher.
func New(repo Repository, sender TemplateSender, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ClaimTTL == 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}

	return &Dispatcher{
		repo:   repo,
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// Start runs the dispatcher on a ticker until the context is cancelled.
// Deployments that trigger runs via the job endpoint skip this entirely.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if _, err := d.Run(ctx); err != nil {
				d.logger.Error("dispatch run failed", zap.Error(err))
			}
		}
	}
}

// Run executes one dispatch pass and returns the number of rows processed,
// counting both sends and per-row failures. Only a failure of the claim
// itself fails the run.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	runID := uuid.NewString()

	if n, err := d.repo.ReclaimStale(ctx, d.config.ClaimTTL); err != nil {
		d.logger.Warn("failed to reclaim stale claims", zap.Error(err))
	} else if n > 0 {
		d.logger.Info("reclaimed stale claims", zap.Int64("count", n))
	}

	if n, err := d.repo.RequeueDue(ctx); err != nil {
		d.logger.Warn("failed to requeue due retries", zap.Error(err))
	} else if n > 0 {
		d.logger.Info("requeued failed messages", zap.Int64("count", n))
	}

	items, err := d.repo.ClaimQueued(ctx, runID, d.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}

	metrics.RecordDispatchBatch(len(items))
	if len(items) == 0 {
		return 0, nil
	}

	d.logger.Info("dispatching batch",
		zap.String("run_id", runID),
		zap.Int("size", len(items)),
	)

	processed := 0
	for _, item := range items {
		d.process(ctx, item)
		processed++
	}

	return processed, nil
}

func (d *Dispatcher) process(ctx context.Context, item *db.DispatchItem) {
	m := &item.Message

	params, err := orderedValues(m.Payload)
	if err != nil {
		d.fail(ctx, m, "invalid payload: "+err.Error())
		return
	}

	source := item.SourceNumber
	if source == "" {
		source = d.config.SourceNumber
	}

	providerMessageID, err := d.sender.SendTemplate(ctx, item.Destination, source, item.ProviderTemplateID, params)
	if err != nil {
		var perr *gupshup.ProviderError
		code := err.Error()
		if errors.As(err, &perr) {
			code = perr.Code
		}
		d.fail(ctx, m, code)
		return
	}

	if err := d.repo.MarkSent(ctx, m.ID, providerMessageID); err != nil {
		d.logger.Error("failed to mark message sent",
			zap.Error(err),
			zap.String("message_id", m.ID.String()),
		)
		return
	}

	metrics.RecordMessageDispatched("sent")
	d.logger.Info("message sent",
		zap.String("message_id", m.ID.String()),
		zap.String("provider_message_id", providerMessageID),
	)
}

// fail records one failed attempt. Rows that exhaust their attempts become
// DEAD; everything else returns to FAILED with a retry time.
func (d *Dispatcher) fail(ctx context.Context, m *db.OutboxMessage, code string) {
	newAttempt := m.Attempts + 1

	status := db.MessageFailed
	var nextRetry *time.Time
	if newAttempt >= d.config.MaxAttempts {
		status = db.MessageDead
	} else {
		t := time.Now().Add(retryDelay(newAttempt))
		nextRetry = &t
	}

	if err := d.repo.UpdateMessageStatus(ctx, m.ID, status, newAttempt, &code, nextRetry); err != nil {
		d.logger.Error("failed to record dispatch failure",
			zap.Error(err),
			zap.String("message_id", m.ID.String()),
		)
		return
	}

	outcome := "failed"
	if status == db.MessageDead {
		outcome = "dead"
	}
	metrics.RecordMessageDispatched(outcome)

	d.logger.Warn("message dispatch failed",
		zap.String("message_id", m.ID.String()),
		zap.String("error_code", code),
		zap.Int("attempt", newAttempt),
		zap.String("status", string(status)),
	)
}

var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

func retryDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return retryDelays[idx]
}

// orderedValues flattens a JSON object's values, in document key order, into
// the provider template parameter list.
func orderedValues(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("payload must be a JSON object")
	}

	var out []string
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, stringify(v))
	}

	return out, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// GuardedSender wraps a TemplateSender with a circuit breaker so a dead
// provider fails fast instead of burning the whole batch on timeouts.
type GuardedSender struct {
	sender  TemplateSender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedSender wraps a sender with circuit breaker protection.
func NewGuardedSender(sender TemplateSender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *GuardedSender {
	return &GuardedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// SendTemplate delegates to the wrapped sender when the circuit allows it.
func (g *GuardedSender) SendTemplate(ctx context.Context, to, source, templateID string, params []string) (string, error) {
	if !g.breaker.Allow() {
		g.logger.Warn("circuit breaker rejected send",
			zap.String("state", g.breaker.GetState().String()),
		)
		return "", circuitbreaker.ErrCircuitOpen
	}

	id, err := g.sender.SendTemplate(ctx, to, source, templateID, params)
	if err != nil {
		g.breaker.RecordFailure()
		return "", err
	}

	g.breaker.RecordSuccess()
	return id, nil
}

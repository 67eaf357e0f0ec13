// Package relay runs the per-event pipeline: classify, assemble, build and
// deliver. Every event gets its own goroutine and shares nothing mutable
// with the others.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/delivery"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/payload"
	"relaybot/internal/trigger"

	"github.com/google/uuid"
)

// Assembler resolves identity and context for an event.
type Assembler interface {
	Assemble(ctx context.Context, ev domain.InboundEvent) (domain.Identity, []domain.ContextMessage)
	Identity(ctx context.Context, ev domain.InboundEvent) domain.Identity
}

// Deliverer sends a built payload downstream.
type Deliverer interface {
	Deliver(ctx context.Context, v any) delivery.Result
}

// Config configures a Relay.
type Config struct {
	Rules     trigger.Rules
	Self      domain.SelfIdentity
	Assembler Assembler
	Deliverer Deliverer
	Logger    *slog.Logger
}

// Relay owns the read-only state shared by all pipelines.
type Relay struct {
	rules     trigger.Rules
	self      domain.SelfIdentity
	assembler Assembler
	deliverer Deliverer
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a Relay.
func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		rules:     cfg.Rules,
		self:      cfg.Self,
		assembler: cfg.Assembler,
		deliverer: cfg.Deliverer,
		logger:    cfg.Logger,
	}
}

// Dispatch runs the pipeline for ev in a new goroutine and returns
// immediately. There is no ordering between events.
func (r *Relay) Dispatch(ctx context.Context, ev domain.InboundEvent) {
	metrics.InFlight.Inc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer metrics.InFlight.Dec()
		r.Handle(ctx, ev)
	}()
}

// Wait blocks until every dispatched pipeline has finished. Shutdown does
// not call it: pending retries are abandoned with the process.
func (r *Relay) Wait() { r.wg.Wait() }

// Handle runs the pipeline for one event synchronously. Any failure is
// logged and the event dropped; Handle never panics.
func (r *Relay) Handle(ctx context.Context, ev domain.InboundEvent) {
	logger := r.logger.With(
		"trace_id", uuid.NewString(),
		"message_id", ev.MessageID,
		"channel_id", ev.ChannelID,
	)
	defer func() {
		if p := recover(); p != nil {
			metrics.PipelineErrors.Inc()
			logger.Error("event pipeline panicked, event dropped", "panic", fmt.Sprint(p))
		}
	}()

	metrics.EventsReceived.Inc()

	res := trigger.Classify(ev, r.rules, r.self)
	switch res.Kind {
	case trigger.Ignore:
		metrics.ClassifiedIgnore.Inc()
		logger.Debug("event ignored", "reason", res.Reason)
		return
	case trigger.Command:
		metrics.ClassifiedCommand.Inc()
	case trigger.Chat:
		metrics.ClassifiedChat.Inc()
	}

	var (
		ident  domain.Identity
		window []domain.ContextMessage
	)
	if res.Kind == trigger.Chat {
		ident, window = r.assembler.Assemble(ctx, ev)
	} else {
		ident = r.assembler.Identity(ctx, ev)
	}

	p := payload.Build(res, ident, window, ev, r.self)
	if p == nil {
		metrics.PipelineErrors.Inc()
		logger.Error("no payload built, event dropped", "kind", res.Kind.String())
		return
	}

	start := time.Now()
	result := r.deliverer.Deliver(ctx, p)
	metrics.DeliveryAttempts.Add(int64(result.Attempts))
	metrics.DeliveryLatency.Observe(time.Since(start).Seconds())

	attrs := []any{
		"event_type", string(p.Type()),
		"convo_key", p.Meta().ConvoKey,
		"attempts", result.Attempts,
	}
	if res.Kind == trigger.Chat {
		attrs = append(attrs, "trigger", string(res.Trigger), "context_len", len(window))
	} else {
		attrs = append(attrs, "command", res.Command)
	}

	switch {
	case result.Outcome == delivery.Delivered:
		metrics.Delivered.Inc()
		logger.Info("event relayed", attrs...)
	case errors.Is(result.Err, context.Canceled):
		metrics.DeliveryFailed.Inc()
		logger.Warn("delivery abandoned at shutdown", append(attrs, "err", result.Err)...)
	default:
		metrics.DeliveryFailed.Inc()
		logger.Error("webhook delivery failed permanently, event dropped", append(attrs, "err", result.Err)...)
	}
}

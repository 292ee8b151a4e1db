package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaw/bridge/pkg/audit"
	"github.com/openclaw/bridge/pkg/message"
	"github.com/openclaw/bridge/pkg/policy"
	"github.com/openclaw/bridge/pkg/store"
)

// DefaultReplayTTL bounds the replay-protection window when Options
// leaves it unset.
const DefaultReplayTTL = 10 * time.Minute

// Options configures an Engine. Policy, Gateway, and the three stores
// are required; the rest have working defaults.
type Options struct {
	Policy      *policy.Engine
	Gateway     Gateway
	Audit       audit.Log
	Replay      store.Replay
	Idempotency store.Idempotency
	RateLimiter store.RateLimiter

	// ReplayTTL is the window within which a (channel, sender, nonce)
	// triple is accepted at most once.
	ReplayTTL time.Duration

	// EnabledFanoutTargets restricts which channels this deployment may
	// forward to. A nil map enables every registered channel.
	EnabledFanoutTargets map[message.Channel]bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine is the single choke point for inbound messages. Each engine
// owns its adapter map; multiple independent engines can coexist in one
// process.
type Engine struct {
	opts     Options
	adapters map[message.Channel]Adapter

	mu      sync.RWMutex
	started bool

	// inflight tracks running pipelines so Stop can drain them.
	inflight sync.WaitGroup

	logger  *slog.Logger
	metrics *engineMetrics
	tracer  trace.Tracer
}

// NewEngine builds an Engine over the given options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Policy == nil {
		return nil, errors.New("bridge: policy engine is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("bridge: gateway is required")
	}
	if opts.Replay == nil || opts.Idempotency == nil || opts.RateLimiter == nil {
		return nil, errors.New("bridge: replay, idempotency, and rate-limit stores are required")
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNopLog()
	}
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = DefaultReplayTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger.With("component", "bridge.engine")
	return &Engine{
		opts:     opts,
		adapters: make(map[message.Channel]Adapter),
		logger:   logger,
		metrics:  newEngineMetrics(logger),
		tracer:   otel.Tracer("openclaw.bridge"),
	}, nil
}

// RegisterAdapter stores the adapter under its channel kind and
// subscribes to its raw-message stream. Each emitted raw message runs
// one independent asynchronous pipeline. Registration is a startup-time
// operation; it fails once the engine has started.
func (e *Engine) RegisterAdapter(adapter Adapter) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New("bridge: cannot register adapters after start")
	}
	kind := adapter.Kind()
	if _, exists := e.adapters[kind]; exists {
		return fmt.Errorf("bridge: adapter already registered for channel %s", kind)
	}
	e.adapters[kind] = adapter

	adapter.OnMessage(func(raw message.RawInbound) {
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			e.dispatch(context.Background(), adapter, raw)
		}()
	})
	return nil
}

// Start starts every registered adapter concurrently and fails on the
// first adapter error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	adapters := e.adapterList()
	e.started = true
	e.mu.Unlock()

	errs := make(chan error, len(adapters))
	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Start(ctx); err != nil {
				errs <- fmt.Errorf("start %s adapter: %w", a.Kind(), err)
			}
		}(a)
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	e.logger.Info("engine started", "adapters", len(adapters))
	return nil
}

// Stop stops every adapter concurrently and then drains in-flight
// pipelines. Stopping is best-effort: every adapter's Stop runs even
// when an earlier one fails, and the first failure is returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	adapters := e.adapterList()
	e.started = false
	e.mu.Unlock()

	errs := make(chan error, len(adapters))
	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Stop(ctx); err != nil {
				errs <- fmt.Errorf("stop %s adapter: %w", a.Kind(), err)
			}
		}(a)
	}
	wg.Wait()
	close(errs)

	e.inflight.Wait()
	e.logger.Info("engine stopped")
	return <-errs
}

func (e *Engine) adapterList() []Adapter {
	list := make([]Adapter, 0, len(e.adapters))
	for _, a := range e.adapters {
		list = append(list, a)
	}
	return list
}

// dispatch is the single point where pipeline failures are caught. A
// failed message is audited and dropped; it never crashes the engine,
// blocks other messages, or retries.
func (e *Engine) dispatch(ctx context.Context, adapter Adapter, raw message.RawInbound) {
	start := e.opts.Now()
	ctx, span := e.tracer.Start(ctx, "bridge.processInbound",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("bridge.channel", string(raw.Channel)),
			attribute.String("bridge.message_id", raw.ID),
		),
	)
	defer span.End()

	err := e.processInbound(ctx, adapter, raw)
	e.metrics.recordDuration(ctx, string(raw.Channel), e.opts.Now().Sub(start))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	outcome := audit.OutcomeError
	kind := "internal"
	var secErr *SecurityError
	var violation *policy.Violation
	switch {
	case errors.As(err, &secErr):
		outcome = audit.OutcomeRejected
		kind = string(secErr.Code)
	case errors.As(err, &violation):
		outcome = audit.OutcomeRejected
		kind = "policy"
	}
	e.metrics.recordRejected(ctx, string(raw.Channel), kind)

	e.logger.Warn("message dropped",
		"channel", raw.Channel,
		"message_id", raw.ID,
		"sender_id", raw.SenderID,
		"reason", err.Error(),
	)
	e.record(ctx, audit.Event{
		Outcome:   outcome,
		Channel:   raw.Channel,
		MessageID: raw.ID,
		SenderID:  raw.SenderID,
		Reason:    err.Error(),
	})
}

// processInbound runs the pipeline stages in their fixed order. Later
// stages are more expensive and only meaningful once earlier invariants
// hold, so no stage may be skipped or reordered.
func (e *Engine) processInbound(ctx context.Context, adapter Adapter, raw message.RawInbound) error {
	rule, err := e.opts.Policy.ResolveRule(raw.Channel)
	if err != nil {
		return err
	}

	if err := e.opts.Policy.EnforcePayloadLimit(rule, raw.Channel, raw.Payload); err != nil {
		return err
	}

	subject := fmt.Sprintf("%s:%s", raw.Channel, raw.SenderID)
	allowed, err := e.opts.RateLimiter.Allow(ctx, subject, e.opts.Now())
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		return newSecurityError(SecurityRateLimited, "Rate limit exceeded for %s", subject)
	}

	replayKey := makeReplayKey(raw)
	fresh, err := e.opts.Replay.MarkIfNew(ctx, replayKey, e.opts.ReplayTTL)
	if err != nil {
		return fmt.Errorf("replay store: %w", err)
	}
	if !fresh {
		return newSecurityError(SecurityReplay, "Replay detected for %s message %s", raw.Channel, raw.ID)
	}

	seen, err := e.opts.Idempotency.HasProcessed(ctx, raw.ID)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	if seen {
		return newSecurityError(SecurityDuplicate, "Message already processed: %s", raw.ID)
	}

	result, err := adapter.Verify(ctx, raw)
	if err != nil {
		return &AdapterError{Op: fmt.Sprintf("%s verify", raw.Channel), Err: err}
	}

	canonical, err := adapter.Normalize(raw, result)
	if err != nil {
		return &AdapterError{Op: fmt.Sprintf("%s normalize", raw.Channel), Err: err}
	}

	if err := e.opts.Policy.Enforce(rule, raw.Channel, canonical); err != nil {
		return err
	}

	if err := e.opts.Gateway.Ingest(ctx, canonical); err != nil {
		return fmt.Errorf("gateway ingest: %w", err)
	}

	// Marked only after a successful ingest so an ingest failure is not
	// silently treated as "processed".
	if err := e.opts.Idempotency.MarkProcessed(ctx, raw.ID); err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}

	e.metrics.recordAccepted(ctx, string(raw.Channel))
	e.record(ctx, audit.Event{
		Outcome:   audit.OutcomeAccepted,
		Channel:   raw.Channel,
		MessageID: canonical.MessageID,
		SenderID:  canonical.SourceSenderID,
	})

	e.forward(ctx, rule, canonical)
	return nil
}

// forward fans an accepted message out to the rule's targets. Each
// target's send runs in its own failure boundary and is audited
// independently; one broken downstream channel never suppresses
// delivery to the rest.
func (e *Engine) forward(ctx context.Context, rule policy.Rule, canonical message.Canonical) {
	for _, target := range rule.FanoutTargets {
		if target == canonical.SourceChannel {
			continue
		}
		if e.opts.EnabledFanoutTargets != nil && !e.opts.EnabledFanoutTargets[target] {
			continue
		}

		e.mu.RLock()
		adapter, ok := e.adapters[target]
		e.mu.RUnlock()
		if !ok {
			continue
		}

		out := message.Outbound{
			Channel:        target,
			ConversationID: canonical.SourceConversationID,
			Text:           renderOutboundText(canonical),
			Metadata: map[string]string{
				"sourceChannel":   string(canonical.SourceChannel),
				"sourceSender":    canonical.SourceSenderID,
				"sourceMessageId": canonical.MessageID,
			},
		}
		if err := adapter.Send(ctx, out); err != nil {
			e.logger.Warn("fanout send failed",
				"target", target,
				"message_id", canonical.MessageID,
				"error", err,
			)
			e.record(ctx, audit.Event{
				Outcome:   audit.OutcomeError,
				Channel:   canonical.SourceChannel,
				MessageID: canonical.MessageID,
				Target:    target,
				Reason:    fmt.Sprintf("fanout send failed: %v", err),
			})
			continue
		}

		e.metrics.recordForwarded(ctx, string(target))
		e.record(ctx, audit.Event{
			Outcome:   audit.OutcomeForwarded,
			Channel:   canonical.SourceChannel,
			MessageID: canonical.MessageID,
			Target:    target,
		})
	}
}

// record writes an audit event best-effort. A failed write is logged
// and dropped; auditing can never abort a pipeline.
func (e *Engine) record(ctx context.Context, event audit.Event) {
	if err := e.opts.Audit.Record(ctx, event); err != nil {
		e.logger.Error("audit record failed",
			"outcome", event.Outcome,
			"message_id", event.MessageID,
			"error", err,
		)
	}
}

// makeReplayKey derives the replay-protection key for a raw message
// from its channel, sender, and nonce (falling back to the message id).
func makeReplayKey(raw message.RawInbound) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", raw.Channel, raw.SenderID, raw.ReplayNonce())))
	return hex.EncodeToString(sum[:])
}

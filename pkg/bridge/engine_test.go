package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/bridge/pkg/audit"
	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/message"
	"github.com/openclaw/bridge/pkg/policy"
	"github.com/openclaw/bridge/pkg/store"
)

type fakeAdapter struct {
	kind    message.Channel
	handler func(message.RawInbound)

	verifyResult authn.VerificationResult
	verifyErr    error
	verifyCalls  atomic.Int32

	sendErr error

	mu   sync.Mutex
	sent []message.Outbound
}

func newFakeAdapter(kind message.Channel) *fakeAdapter {
	return &fakeAdapter{
		kind: kind,
		verifyResult: authn.VerificationResult{
			Authenticated: true,
			Mechanism:     "test",
			Confidence:    message.ConfidenceHigh,
		},
	}
}

func (a *fakeAdapter) Kind() message.Channel          { return a.kind }
func (a *fakeAdapter) Start(context.Context) error    { return nil }
func (a *fakeAdapter) Stop(context.Context) error     { return nil }
func (a *fakeAdapter) OnMessage(h func(message.RawInbound)) { a.handler = h }

func (a *fakeAdapter) Send(_ context.Context, out message.Outbound) error {
	if a.sendErr != nil {
		return a.sendErr
	}
	a.mu.Lock()
	a.sent = append(a.sent, out)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Verify(context.Context, message.RawInbound) (authn.VerificationResult, error) {
	a.verifyCalls.Add(1)
	return a.verifyResult, a.verifyErr
}

func (a *fakeAdapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	canonical := message.Canonical{
		MessageID:            raw.ID,
		SourceChannel:        raw.Channel,
		SourceSenderID:       raw.SenderID,
		SourceConversationID: raw.ConversationID,
		CreatedAtMs:          raw.TimestampMs,
		Kind:                 message.KindText,
		Text:                 raw.Payload,
		CryptographicState: message.CryptographicState{
			Authenticated: result.Authenticated,
			Mechanism:     result.Mechanism,
			Confidence:    result.Confidence,
		},
	}
	if name, ok := raw.Metadata["command"]; ok {
		canonical.Kind = message.KindCommand
		canonical.CommandName = name
	}
	return canonical, nil
}

func (a *fakeAdapter) emit(raw message.RawInbound) { a.handler(raw) }

func (a *fakeAdapter) sentMessages() []message.Outbound {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]message.Outbound(nil), a.sent...)
}

type fakeGateway struct {
	mu       sync.Mutex
	ingested []message.Canonical
	err      error
}

func (g *fakeGateway) Ingest(_ context.Context, msg message.Canonical) error {
	if g.err != nil {
		return g.err
	}
	g.mu.Lock()
	g.ingested = append(g.ingested, msg)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) messages() []message.Canonical {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]message.Canonical(nil), g.ingested...)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *fakeAudit) Record(_ context.Context, event audit.Event) error {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

func (l *fakeAudit) byOutcome(outcome audit.Outcome) []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Event
	for _, e := range l.events {
		if e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

type testBridge struct {
	engine  *Engine
	gateway *fakeGateway
	trail   *fakeAudit
}

func newTestBridge(t *testing.T, rules policy.Policy, adapters ...*fakeAdapter) *testBridge {
	t.Helper()
	engine, err := policy.NewEngine(rules)
	require.NoError(t, err)

	gateway := &fakeGateway{}
	trail := &fakeAudit{}
	e, err := NewEngine(Options{
		Policy:      engine,
		Gateway:     gateway,
		Audit:       trail,
		Replay:      store.NewMemoryReplay(),
		Idempotency: store.NewMemoryIdempotency(24 * time.Hour),
		RateLimiter: store.NewMemoryRateLimiter(100),
		ReplayTTL:   10 * time.Minute,
	})
	require.NoError(t, err)

	for _, a := range adapters {
		require.NoError(t, e.RegisterAdapter(a))
	}
	require.NoError(t, e.Start(context.Background()))
	return &testBridge{engine: e, gateway: gateway, trail: trail}
}

// drain waits for in-flight pipelines to finish.
func (b *testBridge) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, b.engine.Stop(context.Background()))
}

func rawMessage(ch message.Channel, id, sender, payload string) message.RawInbound {
	return message.RawInbound{
		ID:             id,
		Channel:        ch,
		SenderID:       sender,
		ConversationID: "room-1",
		TimestampMs:    time.Now().UnixMilli(),
		Payload:        payload,
	}
}

func TestPipeline_AcceptAndFanout(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	telegram := newFakeAdapter(message.ChannelTelegram)
	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      4096,
			FanoutTargets:        []message.Channel{message.ChannelTelegram},
		},
	}, slack, telegram)

	slack.emit(rawMessage(message.ChannelSlack, "m1", "U1", "hello from slack"))
	b.drain(t)

	ingested := b.gateway.messages()
	require.Len(t, ingested, 1)
	assert.Equal(t, message.ChannelSlack, ingested[0].SourceChannel)
	assert.Equal(t, "hello from slack", ingested[0].Text)
	assert.True(t, ingested[0].CryptographicState.Authenticated)

	sent := telegram.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, message.ChannelTelegram, sent[0].Channel)
	assert.Equal(t, "[slack] hello from slack", sent[0].Text)
	assert.Equal(t, "slack", sent[0].Metadata["sourceChannel"])
	assert.Equal(t, "m1", sent[0].Metadata["sourceMessageId"])

	assert.Len(t, b.trail.byOutcome(audit.OutcomeAccepted), 1)
	assert.Len(t, b.trail.byOutcome(audit.OutcomeForwarded), 1)
}

func TestPipeline_ReplayRejectedOnSecondDelivery(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	telegram := newFakeAdapter(message.ChannelTelegram)
	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {
			FanoutTargets: []message.Channel{message.ChannelTelegram},
		},
	}, slack, telegram)

	raw := rawMessage(message.ChannelSlack, "m1", "U1", "once only")
	slack.emit(raw)
	slack.emit(raw)
	b.drain(t)

	assert.Len(t, b.gateway.messages(), 1, "exactly one ingest")
	assert.Len(t, telegram.sentMessages(), 1, "exactly one forward")

	rejected := b.trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "Replay detected")
}

func TestPipeline_UnauthenticatedNeverReachesGateway(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	slack.verifyResult = authn.Reject("Slack signature mismatch")
	telegram := newFakeAdapter(message.ChannelTelegram)
	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {
			RequireAuthenticated: true,
			FanoutTargets:        []message.Channel{message.ChannelTelegram},
		},
	}, slack, telegram)

	slack.emit(rawMessage(message.ChannelSlack, "m1", "U1", "forged"))
	b.drain(t)

	assert.Empty(t, b.gateway.messages())
	assert.Empty(t, telegram.sentMessages())

	rejected := b.trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "Authentication required for slack", rejected[0].Reason)
}

func TestPipeline_OversizedPayloadSkipsVerification(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {MaxPayloadBytes: 4},
	}, slack)

	slack.emit(rawMessage(message.ChannelSlack, "m1", "U1", "way too large"))
	b.drain(t)

	assert.Empty(t, b.gateway.messages())
	assert.Equal(t, int32(0), slack.verifyCalls.Load(), "verify must not run for oversized payloads")

	rejected := b.trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "Payload too large for slack")
}

func TestPipeline_DisallowedCommandRejected(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {
			AllowCommands:   true,
			AllowedCommands: []string{"status"},
		},
	}, slack)

	raw := rawMessage(message.ChannelSlack, "m1", "U1", "/deploy prod")
	raw.Metadata = map[string]string{"command": "deploy"}
	slack.emit(raw)
	b.drain(t)

	assert.Empty(t, b.gateway.messages())
	rejected := b.trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "Command not allowed: deploy", rejected[0].Reason)
}

func TestPipeline_RateLimitEnforced(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	engine, err := policy.NewEngine(policy.Policy{message.ChannelSlack: {}})
	require.NoError(t, err)

	gateway := &fakeGateway{}
	trail := &fakeAudit{}
	e, err := NewEngine(Options{
		Policy:      engine,
		Gateway:     gateway,
		Audit:       trail,
		Replay:      store.NewMemoryReplay(),
		Idempotency: store.NewMemoryIdempotency(24 * time.Hour),
		RateLimiter: store.NewMemoryRateLimiter(2),
		Now: func() time.Time {
			// Pin to one window so the test cannot straddle a minute edge.
			return time.UnixMilli(1700000000000)
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.RegisterAdapter(slack))
	require.NoError(t, e.Start(context.Background()))

	for _, id := range []string{"m1", "m2", "m3"} {
		raw := rawMessage(message.ChannelSlack, id, "U1", "hi")
		raw.Nonce = id
		slack.emit(raw)
	}
	require.NoError(t, e.Stop(context.Background()))

	assert.Len(t, gateway.messages(), 2)
	rejected := trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "Rate limit exceeded for slack:U1")
}

func TestPipeline_UnconfiguredChannelRejected(t *testing.T) {
	discord := newFakeAdapter(message.ChannelDiscord)
	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {},
	}, discord)

	discord.emit(rawMessage(message.ChannelDiscord, "m1", "author", "hi"))
	b.drain(t)

	assert.Empty(t, b.gateway.messages())
	rejected := b.trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "No policy rule configured for source channel: discord", rejected[0].Reason)
}

func TestPipeline_IngestFailureDoesNotMarkProcessed(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	engine, err := policy.NewEngine(policy.Policy{message.ChannelSlack: {}})
	require.NoError(t, err)

	gateway := &fakeGateway{err: errors.New("downstream unavailable")}
	trail := &fakeAudit{}
	idem := store.NewMemoryIdempotency(24 * time.Hour)
	e, err := NewEngine(Options{
		Policy:      engine,
		Gateway:     gateway,
		Audit:       trail,
		Replay:      store.NewMemoryReplay(),
		Idempotency: idem,
		RateLimiter: store.NewMemoryRateLimiter(100),
	})
	require.NoError(t, err)
	require.NoError(t, e.RegisterAdapter(slack))
	require.NoError(t, e.Start(context.Background()))

	slack.emit(rawMessage(message.ChannelSlack, "m1", "U1", "hi"))
	require.NoError(t, e.Stop(context.Background()))

	seen, err := idem.HasProcessed(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, seen, "ingest failure must not mark the message processed")

	failures := trail.byOutcome(audit.OutcomeError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Reason, "downstream unavailable")
}

func TestPipeline_FanoutFailureIsolatedPerTarget(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	broken := newFakeAdapter(message.ChannelTelegram)
	broken.sendErr = errors.New("telegram api down")
	healthy := newFakeAdapter(message.ChannelDiscord)

	b := newTestBridge(t, policy.Policy{
		message.ChannelSlack: {
			FanoutTargets: []message.Channel{message.ChannelTelegram, message.ChannelDiscord},
		},
	}, slack, broken, healthy)

	slack.emit(rawMessage(message.ChannelSlack, "m1", "U1", "hi"))
	b.drain(t)

	assert.Len(t, b.gateway.messages(), 1)
	assert.Empty(t, broken.sentMessages())
	assert.Len(t, healthy.sentMessages(), 1, "a broken target must not suppress the rest")

	assert.Len(t, b.trail.byOutcome(audit.OutcomeForwarded), 1)
	failures := b.trail.byOutcome(audit.OutcomeError)
	require.Len(t, failures, 1)
	assert.Equal(t, message.ChannelTelegram, failures[0].Target)
}

func TestPipeline_FanoutSkipsSourceDisabledAndUnregistered(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	telegram := newFakeAdapter(message.ChannelTelegram)
	discord := newFakeAdapter(message.ChannelDiscord)

	engine, err := policy.NewEngine(policy.Policy{
		message.ChannelSlack: {
			FanoutTargets: []message.Channel{
				message.ChannelSlack,    // source, skipped
				message.ChannelTelegram, // disabled by deployment toggle
				message.ChannelDiscord,  // delivered
				message.ChannelSignal,   // no adapter registered
			},
		},
	})
	require.NoError(t, err)

	gateway := &fakeGateway{}
	e, err := NewEngine(Options{
		Policy:      engine,
		Gateway:     gateway,
		Replay:      store.NewMemoryReplay(),
		Idempotency: store.NewMemoryIdempotency(24 * time.Hour),
		RateLimiter: store.NewMemoryRateLimiter(100),
		EnabledFanoutTargets: map[message.Channel]bool{
			message.ChannelDiscord: true,
			message.ChannelSignal:  true,
		},
	})
	require.NoError(t, err)
	for _, a := range []*fakeAdapter{slack, telegram, discord} {
		require.NoError(t, e.RegisterAdapter(a))
	}
	require.NoError(t, e.Start(context.Background()))

	slack.emit(rawMessage(message.ChannelSlack, "m1", "U1", "hi"))
	require.NoError(t, e.Stop(context.Background()))

	assert.Empty(t, slack.sentMessages())
	assert.Empty(t, telegram.sentMessages())
	assert.Len(t, discord.sentMessages(), 1)
}

func TestPipeline_DuplicateIDWithFreshNonceRejectedByIdempotency(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	b := newTestBridge(t, policy.Policy{message.ChannelSlack: {}}, slack)

	first := rawMessage(message.ChannelSlack, "m1", "U1", "hi")
	first.Nonce = "nonce-a"
	slack.emit(first)
	b.drain(t)
	require.Len(t, b.gateway.messages(), 1)

	require.NoError(t, b.engine.Start(context.Background()))
	second := rawMessage(message.ChannelSlack, "m1", "U1", "hi")
	second.Nonce = "nonce-b"
	slack.emit(second)
	require.NoError(t, b.engine.Stop(context.Background()))

	assert.Len(t, b.gateway.messages(), 1, "same id with a fresh nonce is still a duplicate")
	rejected := b.trail.byOutcome(audit.OutcomeRejected)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "already processed")
}

func TestRenderOutboundText(t *testing.T) {
	tests := []struct {
		name string
		msg  message.Canonical
		want string
	}{
		{
			name: "text",
			msg:  message.Canonical{SourceChannel: message.ChannelSlack, Kind: message.KindText, Text: "hello"},
			want: "[slack] hello",
		},
		{
			name: "empty text",
			msg:  message.Canonical{SourceChannel: message.ChannelEmail, Kind: message.KindText},
			want: "[email] ",
		},
		{
			name: "command with args",
			msg: message.Canonical{
				SourceChannel: message.ChannelDiscord,
				Kind:          message.KindCommand,
				CommandName:   "status",
				CommandArgs:   []string{"env=prod", "verbose"},
			},
			want: "[discord] /status env=prod verbose",
		},
		{
			name: "command without args",
			msg: message.Canonical{
				SourceChannel: message.ChannelDiscord,
				Kind:          message.KindCommand,
				CommandName:   "ping",
			},
			want: "[discord] /ping",
		},
		{
			name: "audio with url",
			msg:  message.Canonical{SourceChannel: message.ChannelWhatsApp, Kind: message.KindAudio, AudioURL: "https://cdn/a.ogg"},
			want: "[whatsapp] (audio) https://cdn/a.ogg",
		},
		{
			name: "file without url",
			msg:  message.Canonical{SourceChannel: message.ChannelTelegram, Kind: message.KindFile},
			want: "[telegram] (file) unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderOutboundText(tt.msg))
		})
	}
}

func TestRegisterAdapter_AfterStartFails(t *testing.T) {
	slack := newFakeAdapter(message.ChannelSlack)
	b := newTestBridge(t, policy.Policy{message.ChannelSlack: {}}, slack)
	defer b.drain(t)

	err := b.engine.RegisterAdapter(newFakeAdapter(message.ChannelTelegram))
	require.Error(t, err)
}

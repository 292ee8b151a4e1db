package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/bridge/pkg/channels/discord"
	"github.com/openclaw/bridge/pkg/channels/email"
	"github.com/openclaw/bridge/pkg/channels/signal"
	"github.com/openclaw/bridge/pkg/channels/slack"
	"github.com/openclaw/bridge/pkg/channels/telegram"
	"github.com/openclaw/bridge/pkg/channels/whatsapp"
	"github.com/openclaw/bridge/pkg/message"
)

type nullSlackClient struct{}

func (nullSlackClient) PostMessage(context.Context, string, string) error { return nil }

type nullTelegramClient struct{}

func (nullTelegramClient) SendMessage(context.Context, string, string) error { return nil }

type nullDiscordClient struct{}

func (nullDiscordClient) CreateMessage(context.Context, string, string) error { return nil }

type nullWhatsAppClient struct{}

func (nullWhatsAppClient) SendText(context.Context, string, string) error { return nil }

type nullSignalClient struct{}

func (nullSignalClient) SendMessage(context.Context, string, string) error { return nil }

type nullMailer struct{}

func (nullMailer) SendText(context.Context, string, string, string, string) error { return nil }

func testServer(t *testing.T) (*Server, map[message.Channel]*[]message.RawInbound) {
	t.Helper()

	slackAdapter := slack.NewWithClient(slack.Config{}, nullSlackClient{})
	telegramAdapter := telegram.NewWithClient(telegram.Config{}, nullTelegramClient{})
	discordAdapter := discord.NewWithClient(discord.Config{}, nullDiscordClient{})
	whatsappAdapter := whatsapp.NewWithClient(whatsapp.Config{VerifyToken: "vt"}, nullWhatsAppClient{})
	signalAdapter := signal.NewWithClient(signal.Config{}, nullSignalClient{})
	emailAdapter := email.NewWithMailer(email.Config{}, nullMailer{})

	received := map[message.Channel]*[]message.RawInbound{}
	for channel, emitter := range map[message.Channel]interface {
		OnMessage(func(message.RawInbound))
	}{
		message.ChannelSlack:    slackAdapter,
		message.ChannelTelegram: telegramAdapter,
		message.ChannelDiscord:  discordAdapter,
		message.ChannelWhatsApp: whatsappAdapter,
		message.ChannelSignal:   signalAdapter,
		message.ChannelEmail:    emailAdapter,
	} {
		bucket := &[]message.RawInbound{}
		received[channel] = bucket
		emitter.OnMessage(func(raw message.RawInbound) { *bucket = append(*bucket, raw) })
	}

	return NewServer(Options{
		Port:     0,
		Slack:    slackAdapter,
		Telegram: telegramAdapter,
		Discord:  discordAdapter,
		WhatsApp: whatsappAdapter,
		Signal:   signalAdapter,
		Email:    emailAdapter,
	}), received
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SlackChallengeEcho(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, http.MethodPost, "/webhooks/slack", `{"type":"url_verification","challenge":"c123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"c123"}`, rec.Body.String())
}

func TestServer_TelegramUpdate(t *testing.T) {
	s, received := testServer(t)
	rec := do(t, s, http.MethodPost, "/webhooks/telegram",
		`{"update_id":7,"message":{"text":"hi","date":1700000000,"chat":{"id":42},"from":{"id":9}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *received[message.ChannelTelegram], 1)

	rec = do(t, s, http.MethodPost, "/webhooks/telegram", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DiscordPing(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, http.MethodPost, "/webhooks/discord", `{"type":1,"id":"i1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":1}`, rec.Body.String())
}

func TestServer_WhatsAppSubscription(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=vt&hub.challenge=ch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ch", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=ch", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_SignalEvent(t *testing.T) {
	s, received := testServer(t)
	rec := do(t, s, http.MethodPost, "/webhooks/signal",
		`{"envelope":{"source":"+15551234","timestamp":1700000000000,"dataMessage":{"message":"hi"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *received[message.ChannelSignal], 1)
}

func TestServer_EmailDelivery(t *testing.T) {
	s, received := testServer(t)
	rec := do(t, s, http.MethodPost, "/webhooks/email",
		`{"messageId":"<a@b>","from":"ops@example.com","bodyText":"hello","timestampMs":1700000000000,"dkimResult":"pass"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := *received[message.ChannelEmail]
	require.Len(t, got, 1)
	assert.Equal(t, "<a@b>", got[0].ID)
	assert.Equal(t, "pass", got[0].Metadata["dkimResult"])
}

func TestServer_HealthAndUnknownRoutes(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/webhooks/unknown", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	disabled := NewServer(Options{Port: 0})
	rec = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

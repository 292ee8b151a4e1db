// Package webhook exposes the inbound HTTP surface of the bridge. Each
// platform that pushes deliveries gets one route that hands the raw
// body to its adapter; ingestion is synchronous, pipeline processing is
// not.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/bridge/pkg/channels/discord"
	"github.com/openclaw/bridge/pkg/channels/email"
	"github.com/openclaw/bridge/pkg/channels/signal"
	"github.com/openclaw/bridge/pkg/channels/slack"
	"github.com/openclaw/bridge/pkg/channels/telegram"
	"github.com/openclaw/bridge/pkg/channels/whatsapp"
)

const maxBodyBytes = 1 << 20

// Options wires the adapters behind the webhook routes. A nil adapter
// disables its route.
type Options struct {
	Port     int
	Logger   *slog.Logger
	Telegram *telegram.Adapter
	Slack    *slack.Adapter
	Discord  *discord.Adapter
	WhatsApp *whatsapp.Adapter
	Signal   *signal.Adapter
	Email    *email.Adapter
}

type Server struct {
	opts   Options
	logger *slog.Logger
	server *http.Server
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:   opts,
		logger: logger.With("component", "webhook.server"),
	}

	mux := http.NewServeMux()
	if opts.Telegram != nil {
		mux.HandleFunc("POST /webhooks/telegram", s.handleTelegram)
	}
	if opts.Slack != nil {
		mux.HandleFunc("POST /webhooks/slack", s.handleSlack)
	}
	if opts.Discord != nil {
		mux.HandleFunc("POST /webhooks/discord", s.handleDiscord)
	}
	if opts.WhatsApp != nil {
		mux.HandleFunc("GET /webhooks/whatsapp", s.handleWhatsAppSubscription)
		mux.HandleFunc("POST /webhooks/whatsapp", s.handleWhatsApp)
	}
	if opts.Signal != nil {
		mux.HandleFunc("POST /webhooks/signal", s.handleSignal)
	}
	if opts.Email != nil {
		mux.HandleFunc("POST /webhooks/email", s.handleEmail)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(opts.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}

	s.logger.Info("webhook server listening", "port", s.opts.Port)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func headerMap(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		out[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return out
}

func writeJSON(w http.ResponseWriter, statusCode int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	if err := s.opts.Telegram.IngestWebhook(body, headerMap(r)); err != nil {
		s.logger.Warn("telegram webhook rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSlack(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	challenge, err := s.opts.Slack.IngestWebhook(body, headerMap(r))
	if err != nil {
		s.logger.Warn("slack webhook rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	if challenge != "" {
		writeJSON(w, http.StatusOK, map[string]any{"challenge": challenge})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDiscord(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	isPing, err := s.opts.Discord.IngestInteraction(body, headerMap(r))
	if err != nil {
		s.logger.Warn("discord interaction rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	if isPing {
		writeJSON(w, http.StatusOK, map[string]any{"type": 1})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleWhatsAppSubscription(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	challenge := s.opts.WhatsApp.VerifyWebhookSubscription(
		query.Get("hub.mode"),
		query.Get("hub.verify_token"),
		query.Get("hub.challenge"),
	)
	if challenge == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "verification_failed"})
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	if err := s.opts.WhatsApp.IngestWebhook(body, headerMap(r)); err != nil {
		s.logger.Warn("whatsapp webhook rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	if err := s.opts.Signal.IngestEvent(body); err != nil {
		s.logger.Warn("signal event rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	var mail email.InboundEmail
	if err := json.Unmarshal(body, &mail); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request"})
		return
	}
	s.opts.Email.IngestInboundEmail(mail)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

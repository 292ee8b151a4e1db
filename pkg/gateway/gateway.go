// Package gateway carries accepted canonical messages to the OpenClaw
// agent runtime downstream of the bridge.
package gateway

import (
	"context"
	"log/slog"

	"github.com/openclaw/bridge/pkg/message"
)

// LogGateway records accepted messages to the structured log. It is
// the development and dry-run downstream.
type LogGateway struct {
	logger *slog.Logger
}

func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger.With("component", "gateway.log")}
}

func (g *LogGateway) Ingest(_ context.Context, msg message.Canonical) error {
	g.logger.Info("message accepted",
		"message_id", msg.MessageID,
		"channel", msg.SourceChannel,
		"sender", msg.SourceSenderID,
		"kind", msg.Kind,
		"authenticated", msg.CryptographicState.Authenticated,
		"confidence", msg.CryptographicState.Confidence,
	)
	return nil
}

// Package email bridges a mailbox. Inbound mail arrives through
// IngestInboundEmail together with the upstream Authentication-Results
// verdicts; outbound mail is delivered over SMTP with implicit TLS.
package email

import (
	"context"
	"time"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/channels"
	"github.com/openclaw/bridge/pkg/message"
)

type Config struct {
	IMAPHost        string
	IMAPPort        int
	SMTPHost        string
	SMTPPort        int
	Username        string
	Password        string
	AllowedSenders  []string
	RequireDKIMPass bool
}

// Mailer sends one plain-text message.
type Mailer interface {
	SendText(ctx context.Context, from, to, subject, body string) error
}

// InboundEmail is a parsed mailbox message with the receiving MTA's
// authentication verdicts already extracted.
type InboundEmail struct {
	MessageID   string `json:"messageId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	BodyText    string `json:"bodyText"`
	TimestampMs int64  `json:"timestampMs"`
	DKIMResult  string `json:"dkimResult"`
	SPFResult   string `json:"spfResult"`
	DMARCResult string `json:"dmarcResult"`
}

type Adapter struct {
	channels.Emitter
	config  Config
	mailer  Mailer
	allowed map[string]struct{}
	now     func() time.Time
}

func New(config Config) *Adapter {
	return NewWithMailer(config, NewSMTPClient(config.SMTPHost, config.SMTPPort, config.Username, config.Password))
}

func NewWithMailer(config Config, mailer Mailer) *Adapter {
	return &Adapter{
		config:  config,
		mailer:  mailer,
		allowed: authn.FoldSet(config.AllowedSenders),
		now:     time.Now,
	}
}

func (a *Adapter) Kind() message.Channel { return message.ChannelEmail }

// Start is a no-op. Mailbox collection runs outside the adapter (an
// IMAP IDLE watcher or a provider webhook) and feeds
// IngestInboundEmail.
func (a *Adapter) Start(context.Context) error { return nil }
func (a *Adapter) Stop(context.Context) error  { return nil }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	sourceChannel := out.Metadata["sourceChannel"]
	if sourceChannel == "" {
		sourceChannel = "unknown"
	}
	subject := "OpenClaw bridge (" + sourceChannel + ")"
	return a.mailer.SendText(ctx, a.config.Username, out.ConversationID, subject, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	result := authn.VerifyEmailAuthResults(a.config.RequireDKIMPass, raw.Metadata["dkimResult"])
	if !result.Authenticated {
		return result, nil
	}
	if len(a.allowed) > 0 && !authn.FoldContains(a.allowed, raw.SenderID) {
		return channels.Downgrade(result, "sender "+raw.SenderID+" not allowlisted"), nil
	}
	return result, nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	return channels.NormalizeTextual(message.ChannelEmail, raw, result), nil
}

// IngestInboundEmail emits one mailbox message. The conversation is
// keyed by the sender address so replies land in the same thread.
func (a *Adapter) IngestInboundEmail(mail InboundEmail) {
	timestampMs := mail.TimestampMs
	if timestampMs == 0 {
		timestampMs = a.now().UnixMilli()
	}

	a.Emit(message.RawInbound{
		ID:             mail.MessageID,
		Channel:        message.ChannelEmail,
		SenderID:       mail.From,
		ConversationID: mail.From,
		TimestampMs:    timestampMs,
		Nonce:          mail.MessageID,
		Payload:        mail.BodyText,
		ContentType:    "text/plain",
		Headers:        map[string]string{},
		Metadata: map[string]string{
			"subject":     mail.Subject,
			"dkimResult":  mail.DKIMResult,
			"spfResult":   mail.SPFResult,
			"dmarcResult": mail.DMARCResult,
		},
	})
}

// Package config loads bridge runtime configuration from environment
// variables. Channel credentials stay in the environment; the fanout
// policy can additionally be overridden from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/bridge/pkg/message"
)

// StoreBackend selects where replay, idempotency and rate-limit state
// lives.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
)

type StatusConfig struct {
	Enabled        bool
	BootstrapNodes []string
	PrivateKeyHex  string
	Topic          string
	CommunityID    string
	ChatID         string
	AllowedSenders []string
}

type WhatsAppConfig struct {
	Enabled        bool
	AppSecret      string
	VerifyToken    string
	AccessToken    string
	PhoneNumberID  string
	AllowedSenders []string
}

type TelegramConfig struct {
	Enabled            bool
	BotToken           string
	WebhookSecretToken string
	AllowedChatIDs     []string
}

type SignalConfig struct {
	Enabled      bool
	RPCURL       string
	TrustedPeers []string
}

type DiscordConfig struct {
	Enabled       bool
	ApplicationID string
	PublicKeyHex  string
	BotToken      string
	AllowedGuilds []string
}

type SlackConfig struct {
	Enabled         bool
	SigningSecret   string
	BotToken        string
	AllowedChannels []string
}

type EmailConfig struct {
	Enabled         bool
	IMAPHost        string
	IMAPPort        int
	SMTPHost        string
	SMTPPort        int
	Username        string
	Password        string
	AllowedSenders  []string
	RequireDKIMPass bool
}

type GatewayConfig struct {
	IngestURL     string
	SigningSecret string
	Issuer        string
}

// Config is the full runtime configuration.
type Config struct {
	Env                string
	LogLevel           string
	HTTPPort           int
	ReplayTTL          time.Duration
	IdempotencyTTL     time.Duration
	RateLimitPerMinute int
	AuditLogPath       string
	AuditSQLitePath    string
	PolicyFile         string

	StoreBackend   StoreBackend
	RedisURL       string
	RedisKeyPrefix string

	// FanoutEnabled gates which channels may receive forwarded
	// messages, independently of adapter activation.
	FanoutEnabled map[message.Channel]bool

	Gateway  GatewayConfig
	Status   StatusConfig
	WhatsApp WhatsAppConfig
	Telegram TelegramConfig
	Signal   SignalConfig
	Discord  DiscordConfig
	Slack    SlackConfig
	Email    EmailConfig

	OTLPEndpoint string
}

func csv(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func asBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	return strings.EqualFold(value, "true")
}

func asNum(name, value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s value: %q", name, value)
	}
	return parsed, nil
}

func asStoreBackend(value string) (StoreBackend, error) {
	switch StoreBackend(strings.ToLower(value)) {
	case "", StoreMemory:
		return StoreMemory, nil
	case StoreRedis:
		return StoreRedis, nil
	}
	return "", fmt.Errorf("invalid STORE_BACKEND value: %q", value)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Load reads configuration from the environment. Parse failures are
// returned immediately; cross-field validation happens in Validate.
func Load() (*Config, error) {
	cfg := &Config{
		Env:             envOr("OPENCLAW_ENV", "development"),
		LogLevel:        envOr("OPENCLAW_LOG_LEVEL", "info"),
		AuditLogPath:    envOr("OPENCLAW_AUDIT_LOG_PATH", "./var/audit.log"),
		AuditSQLitePath: os.Getenv("OPENCLAW_AUDIT_SQLITE_PATH"),
		PolicyFile:      os.Getenv("OPENCLAW_POLICY_FILE"),
		RedisURL:        envOr("REDIS_URL", "redis://127.0.0.1:6379"),
		RedisKeyPrefix:  envOr("REDIS_KEY_PREFIX", "openclaw"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Gateway: GatewayConfig{
			IngestURL:     os.Getenv("OPENCLAW_GATEWAY_URL"),
			SigningSecret: os.Getenv("OPENCLAW_GATEWAY_SECRET"),
			Issuer:        envOr("OPENCLAW_GATEWAY_ISSUER", "openclaw.bridge"),
		},
	}

	var err error
	if cfg.HTTPPort, err = asNum("OPENCLAW_HTTP_PORT", os.Getenv("OPENCLAW_HTTP_PORT"), 8080); err != nil {
		return nil, err
	}

	replayMs, err := asNum("OPENCLAW_REPLAY_TTL_MS", os.Getenv("OPENCLAW_REPLAY_TTL_MS"), 600000)
	if err != nil {
		return nil, err
	}
	cfg.ReplayTTL = time.Duration(replayMs) * time.Millisecond

	idempotencyMs, err := asNum("OPENCLAW_IDEMPOTENCY_TTL_MS", os.Getenv("OPENCLAW_IDEMPOTENCY_TTL_MS"), 604800000)
	if err != nil {
		return nil, err
	}
	cfg.IdempotencyTTL = time.Duration(idempotencyMs) * time.Millisecond

	if cfg.RateLimitPerMinute, err = asNum("OPENCLAW_RATE_LIMIT_PER_MIN", os.Getenv("OPENCLAW_RATE_LIMIT_PER_MIN"), 60); err != nil {
		return nil, err
	}

	if cfg.StoreBackend, err = asStoreBackend(os.Getenv("STORE_BACKEND")); err != nil {
		return nil, err
	}

	cfg.FanoutEnabled = map[message.Channel]bool{
		message.ChannelDiscord:  asBool(os.Getenv("BRIDGE_ENABLE_DISCORD"), false),
		message.ChannelSlack:    asBool(os.Getenv("BRIDGE_ENABLE_SLACK"), false),
		message.ChannelTelegram: asBool(os.Getenv("BRIDGE_ENABLE_TELEGRAM"), false),
		message.ChannelWhatsApp: asBool(os.Getenv("BRIDGE_ENABLE_WHATSAPP"), false),
		message.ChannelSignal:   asBool(os.Getenv("BRIDGE_ENABLE_SIGNAL"), false),
		message.ChannelEmail:    asBool(os.Getenv("BRIDGE_ENABLE_EMAIL"), false),
		message.ChannelStatus:   true,
	}

	cfg.Status = StatusConfig{
		Enabled:        asBool(os.Getenv("STATUS_ENABLED"), false),
		BootstrapNodes: csv(os.Getenv("STATUS_WAKU_BOOTSTRAP_NODES")),
		PrivateKeyHex:  os.Getenv("STATUS_PRIVATE_KEY_HEX"),
		Topic:          os.Getenv("STATUS_EXPECTED_TOPIC"),
		CommunityID:    os.Getenv("STATUS_COMMUNITY_ID"),
		ChatID:         os.Getenv("STATUS_CHAT_ID"),
		AllowedSenders: csv(os.Getenv("STATUS_ALLOWED_SENDERS")),
	}
	cfg.WhatsApp = WhatsAppConfig{
		Enabled:        asBool(os.Getenv("WHATSAPP_ENABLED"), false),
		AppSecret:      os.Getenv("WHATSAPP_APP_SECRET"),
		VerifyToken:    os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		AccessToken:    os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		PhoneNumberID:  os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		AllowedSenders: csv(os.Getenv("WHATSAPP_ALLOWED_SENDERS")),
	}
	cfg.Telegram = TelegramConfig{
		Enabled:            asBool(os.Getenv("TELEGRAM_ENABLED"), false),
		BotToken:           os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookSecretToken: os.Getenv("TELEGRAM_WEBHOOK_SECRET_TOKEN"),
		AllowedChatIDs:     csv(os.Getenv("TELEGRAM_ALLOWED_CHAT_IDS")),
	}
	cfg.Signal = SignalConfig{
		Enabled:      asBool(os.Getenv("SIGNAL_ENABLED"), false),
		RPCURL:       os.Getenv("SIGNAL_RPC_URL"),
		TrustedPeers: csv(os.Getenv("SIGNAL_TRUSTED_PEERS")),
	}
	cfg.Discord = DiscordConfig{
		Enabled:       asBool(os.Getenv("DISCORD_ENABLED"), false),
		ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		PublicKeyHex:  os.Getenv("DISCORD_PUBLIC_KEY"),
		BotToken:      os.Getenv("DISCORD_BOT_TOKEN"),
		AllowedGuilds: csv(os.Getenv("DISCORD_ALLOWED_GUILDS")),
	}
	cfg.Slack = SlackConfig{
		Enabled:         asBool(os.Getenv("SLACK_ENABLED"), false),
		SigningSecret:   os.Getenv("SLACK_SIGNING_SECRET"),
		BotToken:        os.Getenv("SLACK_BOT_TOKEN"),
		AllowedChannels: csv(os.Getenv("SLACK_ALLOWED_CHANNELS")),
	}

	emailIMAPPort, err := asNum("EMAIL_IMAP_PORT", os.Getenv("EMAIL_IMAP_PORT"), 993)
	if err != nil {
		return nil, err
	}
	emailSMTPPort, err := asNum("EMAIL_SMTP_PORT", os.Getenv("EMAIL_SMTP_PORT"), 587)
	if err != nil {
		return nil, err
	}
	cfg.Email = EmailConfig{
		Enabled:         asBool(os.Getenv("EMAIL_ENABLED"), false),
		IMAPHost:        os.Getenv("EMAIL_IMAP_HOST"),
		IMAPPort:        emailIMAPPort,
		SMTPHost:        os.Getenv("EMAIL_SMTP_HOST"),
		SMTPPort:        emailSMTPPort,
		Username:        os.Getenv("EMAIL_USERNAME"),
		Password:        os.Getenv("EMAIL_PASSWORD"),
		AllowedSenders:  csv(os.Getenv("EMAIL_ALLOWED_SENDERS")),
		RequireDKIMPass: asBool(os.Getenv("EMAIL_REQUIRE_DKIM_PASS"), true),
	}

	return cfg, nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// Validate fails fast on configuration that would only surface as a
// runtime error deep inside an adapter.
func (c *Config) Validate() error {
	if c.StoreBackend == StoreRedis {
		if err := required("REDIS_URL", c.RedisURL); err != nil {
			return err
		}
	}

	if c.Status.Enabled {
		if err := required("STATUS_PRIVATE_KEY_HEX", c.Status.PrivateKeyHex); err != nil {
			return err
		}
		if len(c.Status.BootstrapNodes) == 0 {
			return fmt.Errorf("STATUS_WAKU_BOOTSTRAP_NODES required when STATUS_ENABLED=true")
		}
		if err := required("STATUS_EXPECTED_TOPIC", c.Status.Topic); err != nil {
			return err
		}
		if err := required("STATUS_COMMUNITY_ID", c.Status.CommunityID); err != nil {
			return err
		}
		if err := required("STATUS_CHAT_ID", c.Status.ChatID); err != nil {
			return err
		}
	}

	if c.WhatsApp.Enabled {
		for name, value := range map[string]string{
			"WHATSAPP_APP_SECRET":      c.WhatsApp.AppSecret,
			"WHATSAPP_ACCESS_TOKEN":    c.WhatsApp.AccessToken,
			"WHATSAPP_PHONE_NUMBER_ID": c.WhatsApp.PhoneNumberID,
		} {
			if err := required(name, value); err != nil {
				return err
			}
		}
	}

	if c.Telegram.Enabled {
		if err := required("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken); err != nil {
			return err
		}
		if err := required("TELEGRAM_WEBHOOK_SECRET_TOKEN", c.Telegram.WebhookSecretToken); err != nil {
			return err
		}
	}

	if c.Discord.Enabled {
		if err := required("DISCORD_PUBLIC_KEY", c.Discord.PublicKeyHex); err != nil {
			return err
		}
	}

	if c.Slack.Enabled {
		if err := required("SLACK_SIGNING_SECRET", c.Slack.SigningSecret); err != nil {
			return err
		}
	}

	if c.Email.Enabled {
		for name, value := range map[string]string{
			"EMAIL_SMTP_HOST": c.Email.SMTPHost,
			"EMAIL_IMAP_HOST": c.Email.IMAPHost,
			"EMAIL_USERNAME":  c.Email.Username,
			"EMAIL_PASSWORD":  c.Email.Password,
		} {
			if err := required(name, value); err != nil {
				return err
			}
		}
	}

	return nil
}

// EnabledChannels reports the channel toggles. The decentralized
// channel follows its own STATUS_ENABLED switch.
func (c *Config) EnabledChannels() map[message.Channel]bool {
	return map[message.Channel]bool{
		message.ChannelStatus:   c.Status.Enabled,
		message.ChannelWhatsApp: c.WhatsApp.Enabled,
		message.ChannelTelegram: c.Telegram.Enabled,
		message.ChannelSignal:   c.Signal.Enabled,
		message.ChannelDiscord:  c.Discord.Enabled,
		message.ChannelSlack:    c.Slack.Enabled,
		message.ChannelEmail:    c.Email.Enabled,
	}
}

// Command bridged runs the OpenClaw cross-channel bridge: channel
// adapters in, policy and security screening in the middle, gateway
// ingest and fanout out.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/bridge/pkg/audit"
	"github.com/openclaw/bridge/pkg/bridge"
	"github.com/openclaw/bridge/pkg/channels/discord"
	"github.com/openclaw/bridge/pkg/channels/email"
	signalchan "github.com/openclaw/bridge/pkg/channels/signal"
	"github.com/openclaw/bridge/pkg/channels/slack"
	"github.com/openclaw/bridge/pkg/channels/status"
	"github.com/openclaw/bridge/pkg/channels/telegram"
	"github.com/openclaw/bridge/pkg/channels/whatsapp"
	"github.com/openclaw/bridge/pkg/config"
	"github.com/openclaw/bridge/pkg/gateway"
	"github.com/openclaw/bridge/pkg/observability"
	"github.com/openclaw/bridge/pkg/policy"
	"github.com/openclaw/bridge/pkg/store"
	"github.com/openclaw/bridge/pkg/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bridged failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(value string) slog.Level {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "openclaw-bridge",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       cfg.Env != "production",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	policyTable, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	policyEngine, err := policy.NewEngine(policyTable)
	if err != nil {
		return fmt.Errorf("build policy engine: %w", err)
	}

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	var redisClient *redis.Client
	openRedis := func() (*redis.Client, error) {
		if redisClient != nil {
			return redisClient, nil
		}
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opt)
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		return redisClient, nil
	}

	var replay store.Replay
	var idempotency store.Idempotency
	var rateLimiter store.RateLimiter
	if cfg.StoreBackend == config.StoreRedis {
		client, err := openRedis()
		if err != nil {
			return err
		}
		replay = store.NewRedisReplay(client, cfg.RedisKeyPrefix)
		idempotency = store.NewRedisIdempotency(client, cfg.RedisKeyPrefix, cfg.IdempotencyTTL)
		rateLimiter = store.NewRedisRateLimiter(client, cfg.RedisKeyPrefix, cfg.RateLimitPerMinute)
	} else {
		replay = store.NewMemoryReplay()
		idempotency = store.NewMemoryIdempotency(cfg.IdempotencyTTL)
		rateLimiter = store.NewMemoryRateLimiter(cfg.RateLimitPerMinute)
	}

	auditLog, err := buildAuditLog(cfg, &cleanups)
	if err != nil {
		return err
	}

	var downstream bridge.Gateway
	if cfg.Gateway.IngestURL != "" {
		downstream = gateway.NewHTTPGateway(gateway.HTTPConfig{
			IngestURL:     cfg.Gateway.IngestURL,
			SigningSecret: cfg.Gateway.SigningSecret,
			Issuer:        cfg.Gateway.Issuer,
		})
	} else {
		downstream = gateway.NewLogGateway(logger)
	}

	engine, err := bridge.NewEngine(bridge.Options{
		Policy:               policyEngine,
		Gateway:              downstream,
		Audit:                auditLog,
		Replay:               replay,
		Idempotency:          idempotency,
		RateLimiter:          rateLimiter,
		ReplayTTL:            cfg.ReplayTTL,
		EnabledFanoutTargets: cfg.FanoutEnabled,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	webhookOpts := webhook.Options{Port: cfg.HTTPPort, Logger: logger}

	if cfg.Status.Enabled {
		client, err := openRedis()
		if err != nil {
			return err
		}
		statusAdapter, err := status.New(status.Config{
			BootstrapNodes: cfg.Status.BootstrapNodes,
			PrivateKeyHex:  cfg.Status.PrivateKeyHex,
			CommunityID:    cfg.Status.CommunityID,
			ChatID:         cfg.Status.ChatID,
			Topic:          cfg.Status.Topic,
			AllowedSenders: cfg.Status.AllowedSenders,
		}, status.NewRedisTransport(client), logger)
		if err != nil {
			return fmt.Errorf("build status adapter: %w", err)
		}
		if err := engine.RegisterAdapter(statusAdapter); err != nil {
			return err
		}
	}

	if cfg.Telegram.Enabled {
		webhookOpts.Telegram = telegram.New(telegram.Config{
			BotToken:           cfg.Telegram.BotToken,
			WebhookSecretToken: cfg.Telegram.WebhookSecretToken,
			AllowedChatIDs:     cfg.Telegram.AllowedChatIDs,
		})
		if err := engine.RegisterAdapter(webhookOpts.Telegram); err != nil {
			return err
		}
	}

	if cfg.WhatsApp.Enabled {
		webhookOpts.WhatsApp = whatsapp.New(whatsapp.Config{
			AppSecret:      cfg.WhatsApp.AppSecret,
			VerifyToken:    cfg.WhatsApp.VerifyToken,
			AccessToken:    cfg.WhatsApp.AccessToken,
			PhoneNumberID:  cfg.WhatsApp.PhoneNumberID,
			AllowedSenders: cfg.WhatsApp.AllowedSenders,
		})
		if err := engine.RegisterAdapter(webhookOpts.WhatsApp); err != nil {
			return err
		}
	}

	if cfg.Signal.Enabled {
		webhookOpts.Signal = signalchan.New(signalchan.Config{
			RPCURL:       cfg.Signal.RPCURL,
			TrustedPeers: cfg.Signal.TrustedPeers,
		})
		if err := engine.RegisterAdapter(webhookOpts.Signal); err != nil {
			return err
		}
	}

	if cfg.Discord.Enabled {
		webhookOpts.Discord = discord.New(discord.Config{
			PublicKeyHex:  cfg.Discord.PublicKeyHex,
			ApplicationID: cfg.Discord.ApplicationID,
			BotToken:      cfg.Discord.BotToken,
			AllowedGuilds: cfg.Discord.AllowedGuilds,
		})
		if err := engine.RegisterAdapter(webhookOpts.Discord); err != nil {
			return err
		}
	}

	if cfg.Slack.Enabled {
		webhookOpts.Slack = slack.New(slack.Config{
			SigningSecret:   cfg.Slack.SigningSecret,
			BotToken:        cfg.Slack.BotToken,
			AllowedChannels: cfg.Slack.AllowedChannels,
		})
		if err := engine.RegisterAdapter(webhookOpts.Slack); err != nil {
			return err
		}
	}

	if cfg.Email.Enabled {
		webhookOpts.Email = email.New(email.Config{
			IMAPHost:        cfg.Email.IMAPHost,
			IMAPPort:        cfg.Email.IMAPPort,
			SMTPHost:        cfg.Email.SMTPHost,
			SMTPPort:        cfg.Email.SMTPPort,
			Username:        cfg.Email.Username,
			Password:        cfg.Email.Password,
			AllowedSenders:  cfg.Email.AllowedSenders,
			RequireDKIMPass: cfg.Email.RequireDKIMPass,
		})
		if err := engine.RegisterAdapter(webhookOpts.Email); err != nil {
			return err
		}
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	server := webhook.NewServer(webhookOpts)
	if err := server.Start(); err != nil {
		_ = engine.Stop(ctx)
		return err
	}

	logger.Info("bridge started", "env", cfg.Env, "port", cfg.HTTPPort, "store", cfg.StoreBackend)

	stop := make(chan os.Signal, 1)
	signalNotify(stop)
	<-stop

	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("webhook server stop failed", "error", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop failed", "error", err)
	}
	return nil
}

func buildAuditLog(cfg *config.Config, cleanups *[]func()) (audit.Log, error) {
	var sinks []audit.Log

	if cfg.AuditLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
		file, err := os.OpenFile(cfg.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		*cleanups = append(*cleanups, func() { _ = file.Close() })
		sinks = append(sinks, audit.NewWriterLog(file))
	}

	if cfg.AuditSQLitePath != "" {
		db, err := audit.OpenSQLite(cfg.AuditSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		*cleanups = append(*cleanups, func() { _ = db.Close() })
		sqliteLog, err := audit.NewSQLiteLog(db)
		if err != nil {
			return nil, fmt.Errorf("init audit db: %w", err)
		}
		sinks = append(sinks, sqliteLog)
	}

	switch len(sinks) {
	case 0:
		return audit.NewWriterLog(os.Stdout), nil
	case 1:
		return sinks[0], nil
	default:
		return audit.NewMultiLog(sinks...), nil
	}
}

func signalNotify(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
}

// Package bootstrap wires shared infrastructure (Postgres, Redis, upstream
// clients, alerting) from configuration so the binaries stay thin.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-reservation-engine/internal/chat"
	appconfig "github.com/wolfman30/clinic-reservation-engine/internal/config"
	"github.com/wolfman30/clinic-reservation-engine/internal/notify"
	"github.com/wolfman30/clinic-reservation-engine/internal/sheets"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// BuildPgxPool connects to Postgres and verifies the connection.
func BuildPgxPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildSheetsClient wires the spreadsheet ledger client from config.
func BuildSheetsClient(cfg *appconfig.Config, logger *logging.Logger) (*sheets.Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	client, err := sheets.New(sheets.Config{
		BaseURL:    cfg.SheetsBaseURL,
		APIToken:   cfg.SheetsAPIToken,
		Timeout:    cfg.SheetsTimeout,
		MaxRetries: cfg.SheetsMaxRetries,
		Backoff:    cfg.SheetsRetryBackoff,
		Logger:     logger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sheets client: %w", err)
	}
	return client, nil
}

// BuildChatClient wires the messaging platform client from config.
func BuildChatClient(cfg *appconfig.Config, logger *logging.Logger) (*chat.Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	client, err := chat.New(chat.Config{
		BaseURL:       cfg.ChatBaseURL,
		ChannelToken:  cfg.ChatChannelToken,
		WebhookSecret: cfg.ChatWebhookSecret,
		Timeout:       cfg.ChatTimeout,
		MaxRetries:    cfg.ChatMaxRetries,
		Backoff:       cfg.ChatRetryBackoff,
		Logger:        logger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: chat client: %w", err)
	}
	return client, nil
}

// BuildAlertService wires operator email alerts. Without a SendGrid key the
// stub sender logs instead of sending, so drift alerts never fail startup.
func BuildAlertService(cfg *appconfig.Config, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}
	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	} else {
		logger.Warn("sendgrid not configured; alert emails will be logged only")
		sender = notify.NewStubEmailSender(logger)
	}
	return notify.NewService(sender, splitRecipients(cfg.AlertRecipients), logger)
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

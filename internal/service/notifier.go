package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/pkg/database"
	"go.uber.org/zap"
)

// NotificationKind mirrors the flash message categories
type NotificationKind string

const (
	NotificationInfo  NotificationKind = "info"
	NotificationError NotificationKind = "error"
)

// Notification is an account event
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	UserID   string           `json:"user_id,omitempty"`
	Provider domain.Provider  `json:"provider,omitempty"`
	Text     string           `json:"text"`
	At       time.Time        `json:"at"`
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.logger.Info("account notification",
		zap.String("kind", string(notification.Kind)),
		zap.String("user_id", notification.UserID),
		zap.String("provider", string(notification.Provider)),
		zap.String("text", notification.Text),
	)
	return nil
}

// RedisNotifier publishes notifications as JSON on a Redis channel
type RedisNotifier struct {
	redis   *database.Redis
	channel string
}

// NewRedisNotifier creates a new Redis pub/sub notifier
func NewRedisNotifier(redis *database.Redis, channel string) *RedisNotifier {
	return &RedisNotifier{redis: redis, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := n.redis.Client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// MultiNotifier fans a notification out to every notifier
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, notification Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

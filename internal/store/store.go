package store

import (
	"context"

	"github.com/nhle/sortify/internal/model"
)

// DefaultListLimit caps ListNotifications when no limit is given.
const DefaultListLimit = 200

// Store defines the persistence interface for the local notification
// cache.
type Store interface {
	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	ListNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context) error
	DeleteAll(ctx context.Context) error
}

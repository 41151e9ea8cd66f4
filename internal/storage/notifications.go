// internal/storage/notifications.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"partner-portal-engine/internal/common/clock"
	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/models"
)

const unreadCountKeyPrefix = "notifications:unread:"

// NotificationStore persists notification records and keeps a per-recipient
// unread counter cached in redis. The cache is invalidated on every write and
// rebuilt lazily from postgres.
type NotificationStore struct {
	db     *sql.DB
	cache  *redis.Client
	ttl    time.Duration
	clock  clock.Clock
	logger logger.Logger
}

func NewNotificationStore(db *sql.DB, cache *redis.Client, ttl time.Duration, clk clock.Clock, log logger.Logger) *NotificationStore {
	return &NotificationStore{
		db:     db,
		cache:  cache,
		ttl:    ttl,
		clock:  clk,
		logger: log.WithFields(map[string]interface{}{"component": "notification_store"}),
	}
}

// CreateMany inserts a batch of notifications in one statement. Cache
// invalidation failures are logged, not returned: the counter self-heals at
// TTL expiry.
func (s *NotificationStore) CreateMany(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, n := range notifications {
		metadataJSON, err := json.Marshal(n.Metadata)
		if err != nil {
			return stderrors.NewPersistenceFailureError("notifications.marshalMetadata", err)
		}
		base := i * 11
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			n.ID, n.RecipientID, n.Type, n.Title, n.Message,
			nullable(n.RelatedEntityType), nullable(n.RelatedEntityID), nullable(n.ActionURL),
			n.IsDeliverySent, metadataJSON, n.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO notifications (id, recipient_id, type, title, message,
			related_entity_type, related_entity_id, action_url,
			is_delivery_sent, metadata, created_at)
		VALUES %s`, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return stderrors.NewPersistenceFailureError("notifications.createMany", err)
	}

	seen := map[string]bool{}
	for _, n := range notifications {
		if !seen[n.RecipientID] {
			seen[n.RecipientID] = true
			s.invalidateUnreadCount(ctx, n.RecipientID)
		}
	}
	return nil
}

// MarkRead marks one notification read for its recipient. Returns the
// recipient ID so callers can react to the change.
func (s *NotificationStore) MarkRead(ctx context.Context, notificationID string) (string, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE id = $1 AND is_read = FALSE
		RETURNING recipient_id`

	var recipientID string
	err := s.db.QueryRowContext(ctx, query, notificationID, s.clock.Now()).Scan(&recipientID)
	if err == sql.ErrNoRows {
		return "", stderrors.NewNotFoundError("notification", notificationID)
	}
	if err != nil {
		return "", stderrors.NewPersistenceFailureError("notifications.markRead", err)
	}

	s.invalidateUnreadCount(ctx, recipientID)
	return recipientID, nil
}

// UnreadCount returns the recipient's number of unread notifications, served
// from redis when warm and recomputed from postgres on a miss.
func (s *NotificationStore) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	key := unreadCountKeyPrefix + recipientID

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			if count, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
				return count, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("unread count cache read failed", map[string]interface{}{
				"recipientId": recipientID,
				"error":       err.Error(),
			})
		}
	}

	var count int64
	query := `SELECT COUNT(1) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`
	if err := s.db.QueryRowContext(ctx, query, recipientID).Scan(&count); err != nil {
		return 0, stderrors.NewPersistenceFailureError("notifications.unreadCount", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, strconv.FormatInt(count, 10), s.ttl).Err(); err != nil {
			s.logger.Warn("unread count cache write failed", map[string]interface{}{
				"recipientId": recipientID,
				"error":       err.Error(),
			})
		}
	}
	return count, nil
}

func (s *NotificationStore) invalidateUnreadCount(ctx context.Context, recipientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, unreadCountKeyPrefix+recipientID).Err(); err != nil {
		s.logger.Warn("unread count cache invalidation failed", map[string]interface{}{
			"recipientId": recipientID,
			"error":       err.Error(),
		})
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

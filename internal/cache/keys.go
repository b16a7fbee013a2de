package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserKeyPrefix        = "user:%s"
	UnreadCountKeyPrefix = "messages:unread:%s"
)

const (
	UserTTL        = 5 * time.Minute
	UnreadCountTTL = 2 * time.Minute
)

func UserKey(userID string) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

// UnreadCountKey holds a receiver's total unread message count.
func UnreadCountKey(userID string) string {
	return fmt.Sprintf(UnreadCountKeyPrefix, userID)
}

func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

func InvalidateUnreadCount(ctx context.Context, userID string) {
	Invalidate(ctx, UnreadCountKey(userID))
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"readaddicts/internal/models"
	"readaddicts/internal/observability"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatCounterpart is one row of the recent-chats aggregate.
type ChatCounterpart struct {
	CounterpartID string
	Unread        int64
}

// MessageRepository defines the data operations behind direct messaging.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	Conversation(ctx context.Context, userA, userB string, offset, limit int) ([]*models.Message, error)
	ListForReceiver(ctx context.Context, receiverID string) ([]*models.Message, error)
	RecentCounterparts(ctx context.Context, userID string) ([]ChatCounterpart, error)
	MarkRead(ctx context.Context, senderID, receiverID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("messages")}
}

var timestampColumn = clause.Column{Table: "messages", Name: "timestamp"}

// Create inserts the message and stamps the sender's last activity in the
// same transaction.
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("create", "messages")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit("Sender", "Receiver").Create(msg)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoRowsAffected
		}

		res = tx.Model(&models.User{}).Where("id = ?", msg.SenderID).UpdateColumn("last_active", msg.Timestamp)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoRowsAffected
		}
		return nil
	})

	switch {
	case err == nil:
		r.log.LogCreate(ctx, map[string]any{"message_id": msg.ID})
		return nil
	case errors.Is(err, ErrNoRowsAffected):
		return err
	case isForeignKeyViolation(err):
		return models.NewNotFoundError("User", msg.ReceiverID)
	default:
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		Where("id = ?", id).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

// Conversation returns one page of the exchange between two users. The page
// is cut from the newest-first ordering and then returned oldest-first, so
// page 1 is always the most recent messages.
func (r *messageRepository) Conversation(ctx context.Context, userA, userB string, offset, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: timestampColumn, Desc: true},
			{Column: clause.Column{Table: "messages", Name: "id"}, Desc: true},
		}}).
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListForReceiver returns every message addressed to receiverID, newest first.
func (r *messageRepository) ListForReceiver(ctx context.Context, receiverID string) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Receiver").
		Where("receiver_id = ?", receiverID).
		Order(clause.OrderByColumn{Column: timestampColumn, Desc: true}).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return messages, nil
}

// recentCounterpartsQuery groups userID's messages by the other party, counts
// unread messages addressed to userID, and orders by the newest message per pair.
func recentCounterpartsQuery(userID string) (string, []interface{}, error) {
	pairs := sq.Select().
		Column(sq.Expr("CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart_id", userID)).
		Columns(`"timestamp"`, "receiver_id", "is_read").
		From("messages").
		Where(sq.Or{sq.Eq{"sender_id": userID}, sq.Eq{"receiver_id": userID}})

	return sq.Select("counterpart_id").
		Column(sq.Expr("SUM(CASE WHEN receiver_id = ? AND NOT is_read THEN 1 ELSE 0 END) AS unread", userID)).
		FromSelect(pairs, "pairs").
		GroupBy("counterpart_id").
		OrderBy(`MAX("timestamp") DESC`, "counterpart_id ASC").
		PlaceholderFormat(sq.Question).
		ToSql()
}

func (r *messageRepository) RecentCounterparts(ctx context.Context, userID string) ([]ChatCounterpart, error) {
	defer observability.TrackQuery("recent_counterparts", "messages")()

	query, args, err := recentCounterpartsQuery(userID)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("build recent chats query: %w", err))
	}

	var rows []ChatCounterpart
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rows, nil
}

// MarkRead flips every unread message from senderID to receiverID. Zero
// transitions is a valid outcome.
func (r *messageRepository) MarkRead(ctx context.Context, senderID, receiverID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": at,
		})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	if res.RowsAffected > 0 {
		r.log.LogUpdate(ctx, map[string]any{
			"sender_id":   senderID,
			"receiver_id": receiverID,
			"read":        res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Count(&count).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

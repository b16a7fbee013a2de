// Package service provides application business logic for comments,
// posts and direct messaging.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"readaddicts/internal/cache"
	"readaddicts/internal/models"
	"readaddicts/internal/observability"
	"readaddicts/internal/repository"
)

const maxMessageLen = 5000

// Push event names delivered over the realtime channel.
const (
	EventReceiveMessage = "ReceiveMessage"
	EventMessagesRead   = "MessagesRead"
)

// Notifier delivers a realtime event to a user. Implementations must not
// block the caller; delivery is best effort.
type Notifier interface {
	NotifyUser(userID, event string, payload any)
}

// PresenceChecker reports whether a user currently holds a realtime connection.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) bool
}

type nopNotifier struct{}

func (nopNotifier) NotifyUser(string, string, any) {}

type nopPresence struct{}

func (nopPresence) IsOnline(context.Context, string) bool { return false }

// MessagesReadPayload is pushed to a sender when the receiver reads their messages.
type MessagesReadPayload struct {
	ReaderID string `json:"readerId"`
	Count    int64  `json:"count"`
}

type MessageService struct {
	messageRepo  repository.MessageRepository
	userRepo     repository.UserRepository
	notifier     Notifier
	presence     PresenceChecker
	maxPageLimit int
	now          func() time.Time
}

type SendMessageInput struct {
	SenderID   string
	ReceiverID string
	Content    string
}

// NewMessageService wires the messaging engine. A nil notifier disables push
// and a nil presence reports everyone offline.
func NewMessageService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	notifier Notifier,
	presence PresenceChecker,
	maxPageLimit int,
) *MessageService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if presence == nil {
		presence = nopPresence{}
	}
	return &MessageService{
		messageRepo:  messageRepo,
		userRepo:     userRepo,
		notifier:     notifier,
		presence:     presence,
		maxPageLimit: maxPageLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Send persists a message, stamps the sender's last activity and pushes the
// message to the receiver. Push failures never fail the send.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (*models.MessageDTO, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, models.NewValidationError("Content is required")
	}
	if len(content) > maxMessageLen {
		return nil, models.NewValidationError("Message too long (max 5000 characters)")
	}
	if in.SenderID == in.ReceiverID {
		return nil, models.NewValidationError("Cannot send a message to yourself")
	}

	receiver, err := s.userRepo.GetByID(ctx, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	sender, err := s.userRepo.GetByID(ctx, in.SenderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &models.Message{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    content,
		Timestamp:  now,
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, models.NewPersistenceError("send message")
		}
		return nil, err
	}
	observability.MessagesSent.Inc()
	cache.InvalidateUnreadCount(ctx, in.ReceiverID)

	msg.Sender = sender
	msg.Receiver = receiver
	dto := msg.ToDTO()

	s.notifier.NotifyUser(in.ReceiverID, EventReceiveMessage, dto)
	s.touch(ctx, in.ReceiverID, now)

	return dto, nil
}

// GetConversation returns one page of the exchange between two users in
// chronological order. Page 1 holds the most recent messages.
func (s *MessageService) GetConversation(ctx context.Context, userA, userB string, page Page) ([]*models.MessageDTO, error) {
	offset, limit, err := page.offset(s.maxPageLimit)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messageRepo.Conversation(ctx, userA, userB, offset, limit)
	if err != nil {
		return nil, err
	}
	return toMessageDTOs(msgs), nil
}

// GetUserMessages returns every message addressed to userID, newest first.
func (s *MessageService) GetUserMessages(ctx context.Context, userID string) ([]*models.MessageDTO, error) {
	msgs, err := s.messageRepo.ListForReceiver(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toMessageDTOs(msgs), nil
}

// GetRecentChats lists every counterpart userID has exchanged messages with,
// most recent exchange first, with the unread count from that counterpart.
func (s *MessageService) GetRecentChats(ctx context.Context, userID string) ([]*models.RecentChat, error) {
	rows, err := s.messageRepo.RecentCounterparts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*models.RecentChat{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.CounterpartID
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	chats := make([]*models.RecentChat, 0, len(rows))
	for _, row := range rows {
		u, ok := byID[row.CounterpartID]
		if !ok {
			continue
		}
		chats = append(chats, &models.RecentChat{
			ID:             u.ID,
			UserName:       u.Username,
			ProfilePicture: u.ProfilePicture,
			LastActive:     u.LastActive,
			UnreadMessages: row.Unread,
			Online:         s.presence.IsOnline(ctx, u.ID),
		})
	}
	return chats, nil
}

// ReadMessages marks every unread message from senderID to receiverID as read
// and returns how many changed. Zero means there was nothing to read and no
// side effects ran.
func (s *MessageService) ReadMessages(ctx context.Context, senderID, receiverID string) (int64, error) {
	now := s.now()
	n, err := s.messageRepo.MarkRead(ctx, senderID, receiverID, now)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	observability.MessagesRead.Add(float64(n))
	cache.InvalidateUnreadCount(ctx, receiverID)
	s.notifier.NotifyUser(senderID, EventMessagesRead, MessagesReadPayload{ReaderID: receiverID, Count: n})
	s.touch(ctx, receiverID, now)

	return n, nil
}

// GetMessageNotificationCount returns the number of unread messages addressed
// to userID.
func (s *MessageService) GetMessageNotificationCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := cache.Aside(ctx, cache.UnreadCountKey(userID), &count, cache.UnreadCountTTL, func() error {
		var err error
		count, err = s.messageRepo.CountUnread(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateUserLastActivity stamps userID as active now. Used by the realtime
// layer on connect and disconnect.
func (s *MessageService) UpdateUserLastActivity(ctx context.Context, userID string) error {
	return s.userRepo.TouchLastActive(ctx, userID, s.now())
}

func (s *MessageService) touch(ctx context.Context, userID string, at time.Time) {
	if err := s.userRepo.TouchLastActive(ctx, userID, at); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to update last activity",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func toMessageDTOs(msgs []*models.Message) []*models.MessageDTO {
	out := make([]*models.MessageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = m.ToDTO()
	}
	return out
}

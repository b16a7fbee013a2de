package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a direct message between two users. Only IsRead/ReadAt ever
// change after insert, and only from false to true.
type Message struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	SenderID   string     `gorm:"type:varchar(36);not null;index:idx_messages_pair,priority:1" json:"sender_id"`
	Sender     *User      `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID string     `gorm:"type:varchar(36);not null;index:idx_messages_pair,priority:2;index:idx_messages_receiver_read,priority:1" json:"receiver_id"`
	Receiver   *User      `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Timestamp  time.Time  `gorm:"not null;index" json:"timestamp"`
	IsRead     bool       `gorm:"not null;default:false;index:idx_messages_receiver_read,priority:2" json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// BeforeCreate assigns a server-generated id.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ToDTO converts the entity, including sender/receiver summaries when preloaded.
func (m *Message) ToDTO() *MessageDTO {
	return &MessageDTO{
		ID:         m.ID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		Read:       m.IsRead,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Sender:     m.Sender.Summary(),
		Receiver:   m.Receiver.Summary(),
	}
}

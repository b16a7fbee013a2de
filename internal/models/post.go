// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Post is the anchor comments hang off. Only the fields the comment
// engine needs are modelled here.
type Post struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	UserID     string         `gorm:"type:varchar(36);not null;index" json:"user_id"`
	User       *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt *time.Time     `json:"modified_at,omitempty"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns a server-generated id.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

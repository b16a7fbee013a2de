package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Comment is a node in a post's comment forest. ParentID is nil for
// top-level comments; a parent always belongs to the same post.
type Comment struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID     string     `gorm:"type:varchar(36);not null;index" json:"user_id"`
	User       *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PostID     string     `gorm:"type:varchar(36);not null;index:idx_comments_post_parent_created,priority:1" json:"post_id"`
	ParentID   *string    `gorm:"type:varchar(36);index;index:idx_comments_post_parent_created,priority:2" json:"parent_id,omitempty"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time  `gorm:"index:idx_comments_post_parent_created,priority:3" json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// BeforeCreate assigns a server-generated id.
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsTopLevel reports whether the comment hangs directly off its post.
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == nil
}

// ToDTO converts the entity without children; ReplyCount is left for the caller.
func (c *Comment) ToDTO() *CommentDTO {
	return &CommentDTO{
		ID:       c.ID,
		UserID:   c.UserID,
		PostID:   c.PostID,
		ParentID: c.ParentID,
		Content:  c.Content,
		Created:  c.CreatedAt,
		Modified: c.ModifiedAt,
		User:     c.User.Summary(),
		Children: []*CommentDTO{},
	}
}

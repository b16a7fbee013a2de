package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the profile record shared by comments and messaging. Credentials
// live with the identity service and never reach this table.
type User struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username       string         `gorm:"uniqueIndex;not null" json:"username"`
	Email          string         `gorm:"uniqueIndex;not null" json:"email"`
	ProfilePicture string         `json:"profile_picture"`
	Biography      string         `gorm:"type:text" json:"biography"`
	LastActive     time.Time      `gorm:"index" json:"last_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns a server-generated id.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Summary projects the user onto the author/counterpart shape used in DTOs.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:             u.ID,
		UserName:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

package models

import "time"

// UserSummary is the author/counterpart shape embedded in responses.
type UserSummary struct {
	ID             string `json:"id"`
	UserName       string `json:"userName"`
	ProfilePicture string `json:"profilePicture"`
}

// CommentDTO is a comment with its author and, where resolved, its replies.
type CommentDTO struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	PostID     string        `json:"postId"`
	ParentID   *string       `json:"parentId,omitempty"`
	Content    string        `json:"content"`
	Created    time.Time     `json:"created"`
	Modified   *time.Time    `json:"modified,omitempty"`
	User       *UserSummary  `json:"user,omitempty"`
	ReplyCount int64         `json:"replyCount"`
	Children   []*CommentDTO `json:"children"`
}

// MessageDTO is the wire shape of a direct message, also used as push payload.
type MessageDTO struct {
	ID         string       `json:"id"`
	Content    string       `json:"content"`
	Timestamp  time.Time    `json:"timestamp"`
	Read       bool         `json:"read"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Receiver   *UserSummary `json:"receiver,omitempty"`
}

// RecentChat is one conversation counterpart ranked by last exchange.
type RecentChat struct {
	ID             string    `json:"id"`
	UserName       string    `json:"userName"`
	ProfilePicture string    `json:"profilePicture"`
	LastActive     time.Time `json:"lastActive"`
	UnreadMessages int64     `json:"unreadMessages"`
	Online         bool      `json:"online"`
}

// DataCountPages is a page of results plus the total count and page count.
type DataCountPages[T any] struct {
	Data  []T   `json:"data"`
	Count int64 `json:"count"`
	Pages int   `json:"pages"`
}

// NewDataCountPages builds a page with Pages = ceil(count/limit).
func NewDataCountPages[T any](data []T, count int64, limit int) *DataCountPages[T] {
	if data == nil {
		data = []T{}
	}
	pages := 0
	if limit > 0 {
		pages = int((count + int64(limit) - 1) / int64(limit))
	}
	return &DataCountPages[T]{Data: data, Count: count, Pages: pages}
}

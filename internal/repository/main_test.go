package repository

import (
	"testing"
	"time"

	"readaddicts/internal/database"
	"readaddicts/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB returns an isolated in-memory SQLite database with the schema applied.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:   username,
		Email:      username + "@example.com",
		LastActive: baseTime.Add(-24 * time.Hour),
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedPost(t *testing.T, db *gorm.DB, author *models.User) *models.Post {
	t.Helper()
	p := &models.Post{UserID: author.ID, Content: "post by " + author.Username, CreatedAt: baseTime}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedComment(t *testing.T, db *gorm.DB, author *models.User, post *models.Post, parent *models.Comment, minute int) *models.Comment {
	t.Helper()
	c := &models.Comment{
		UserID:    author.ID,
		PostID:    post.ID,
		Content:   "comment",
		CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute),
	}
	if parent != nil {
		c.ParentID = &parent.ID
	}
	require.NoError(t, db.Omit("User").Create(c).Error)
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, from, to *models.User, minute int, read bool) *models.Message {
	t.Helper()
	m := &models.Message{
		SenderID:   from.ID,
		ReceiverID: to.ID,
		Content:    "hi",
		Timestamp:  baseTime.Add(time.Duration(minute) * time.Minute),
		IsRead:     read,
	}
	require.NoError(t, db.Omit("Sender", "Receiver").Create(m).Error)
	return m
}

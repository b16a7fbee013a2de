package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"readaddicts/internal/database"
	"readaddicts/internal/models"
	"readaddicts/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// commentRepoStub is a stub for repository.CommentRepository.
type commentRepoStub struct {
	createFn              func(context.Context, *models.Comment) error
	getByIDFn             func(context.Context, string) (*models.Comment, error)
	updateContentFn       func(context.Context, string, string, string, time.Time) error
	deleteTreeFn          func(context.Context, string, string) (int64, error)
	listRepliesFn         func(context.Context, string) ([]*models.Comment, error)
	countRepliesFn        func(context.Context, string) (int64, error)
	countRepliesForFn     func(context.Context, []string) (map[string]int64, error)
	listTopLevelByPostFn  func(context.Context, string, int, int) ([]*models.Comment, error)
	countTopLevelByPostFn func(context.Context, string) (int64, error)
	listByUserFn          func(context.Context, string, int, int) ([]*models.Comment, error)
	countByUserFn         func(context.Context, string) (int64, error)
}

func (s *commentRepoStub) Create(ctx context.Context, c *models.Comment) error {
	return s.createFn(ctx, c)
}
func (s *commentRepoStub) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	return s.getByIDFn(ctx, id)
}
func (s *commentRepoStub) UpdateContent(ctx context.Context, id, userID, content string, at time.Time) error {
	return s.updateContentFn(ctx, id, userID, content, at)
}
func (s *commentRepoStub) DeleteTree(ctx context.Context, id, userID string) (int64, error) {
	return s.deleteTreeFn(ctx, id, userID)
}
func (s *commentRepoStub) ListReplies(ctx context.Context, parentID string) ([]*models.Comment, error) {
	return s.listRepliesFn(ctx, parentID)
}
func (s *commentRepoStub) CountReplies(ctx context.Context, parentID string) (int64, error) {
	return s.countRepliesFn(ctx, parentID)
}
func (s *commentRepoStub) CountRepliesFor(ctx context.Context, ids []string) (map[string]int64, error) {
	return s.countRepliesForFn(ctx, ids)
}
func (s *commentRepoStub) ListTopLevelByPost(ctx context.Context, postID string, offset, limit int) ([]*models.Comment, error) {
	return s.listTopLevelByPostFn(ctx, postID, offset, limit)
}
func (s *commentRepoStub) CountTopLevelByPost(ctx context.Context, postID string) (int64, error) {
	return s.countTopLevelByPostFn(ctx, postID)
}
func (s *commentRepoStub) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Comment, error) {
	return s.listByUserFn(ctx, userID, offset, limit)
}
func (s *commentRepoStub) CountByUser(ctx context.Context, userID string) (int64, error) {
	return s.countByUserFn(ctx, userID)
}

func noopCommentRepo() *commentRepoStub {
	return &commentRepoStub{
		createFn: func(context.Context, *models.Comment) error { return nil },
		getByIDFn: func(_ context.Context, id string) (*models.Comment, error) {
			return nil, models.NewNotFoundError("Comment", id)
		},
		updateContentFn: func(context.Context, string, string, string, time.Time) error { return nil },
		deleteTreeFn:    func(context.Context, string, string) (int64, error) { return 1, nil },
		listRepliesFn:   func(context.Context, string) ([]*models.Comment, error) { return nil, nil },
		countRepliesFn:  func(context.Context, string) (int64, error) { return 0, nil },
		countRepliesForFn: func(context.Context, []string) (map[string]int64, error) {
			return map[string]int64{}, nil
		},
		listTopLevelByPostFn:  func(context.Context, string, int, int) ([]*models.Comment, error) { return nil, nil },
		countTopLevelByPostFn: func(context.Context, string) (int64, error) { return 0, nil },
		listByUserFn:          func(context.Context, string, int, int) ([]*models.Comment, error) { return nil, nil },
		countByUserFn:         func(context.Context, string) (int64, error) { return 0, nil },
	}
}

// postRepoStub is a stub for repository.PostRepository.
type postRepoStub struct {
	createFn  func(context.Context, *models.Post) error
	getByIDFn func(context.Context, string) (*models.Post, error)
	existsFn  func(context.Context, string) (bool, error)
}

func (s *postRepoStub) Create(ctx context.Context, p *models.Post) error {
	return s.createFn(ctx, p)
}
func (s *postRepoStub) GetByID(ctx context.Context, id string) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}
func (s *postRepoStub) Exists(ctx context.Context, id string) (bool, error) {
	return s.existsFn(ctx, id)
}

func noopPostRepo() *postRepoStub {
	return &postRepoStub{
		createFn: func(context.Context, *models.Post) error { return nil },
		getByIDFn: func(_ context.Context, id string) (*models.Post, error) {
			return &models.Post{ID: id}, nil
		},
		existsFn: func(context.Context, string) (bool, error) { return true, nil },
	}
}

// userRepoStub is a stub for repository.UserRepository.
type userRepoStub struct {
	getByIDFn         func(context.Context, string) (*models.User, error)
	getByIDsFn        func(context.Context, []string) ([]models.User, error)
	getByUsernameFn   func(context.Context, string) (*models.User, error)
	existsFn          func(context.Context, string) (bool, error)
	createFn          func(context.Context, *models.User) error
	touchLastActiveFn func(context.Context, string, time.Time) error
}

func (s *userRepoStub) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	return s.getByIDsFn(ctx, ids)
}
func (s *userRepoStub) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getByUsernameFn(ctx, username)
}
func (s *userRepoStub) Exists(ctx context.Context, id string) (bool, error) {
	return s.existsFn(ctx, id)
}
func (s *userRepoStub) Create(ctx context.Context, u *models.User) error {
	return s.createFn(ctx, u)
}
func (s *userRepoStub) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return s.touchLastActiveFn(ctx, id, at)
}

func noopUserRepo() *userRepoStub {
	return &userRepoStub{
		getByIDFn: func(_ context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Username: "user-" + id}, nil
		},
		getByIDsFn:        func(context.Context, []string) ([]models.User, error) { return nil, nil },
		getByUsernameFn:   func(context.Context, string) (*models.User, error) { return nil, nil },
		existsFn:          func(context.Context, string) (bool, error) { return true, nil },
		createFn:          func(context.Context, *models.User) error { return nil },
		touchLastActiveFn: func(context.Context, string, time.Time) error { return nil },
	}
}

// messageRepoStub is a stub for repository.MessageRepository.
type messageRepoStub struct {
	createFn             func(context.Context, *models.Message) error
	getByIDFn            func(context.Context, string) (*models.Message, error)
	conversationFn       func(context.Context, string, string, int, int) ([]*models.Message, error)
	listForReceiverFn    func(context.Context, string) ([]*models.Message, error)
	recentCounterpartsFn func(context.Context, string) ([]repository.ChatCounterpart, error)
	markReadFn           func(context.Context, string, string, time.Time) (int64, error)
	countUnreadFn        func(context.Context, string) (int64, error)
}

func (s *messageRepoStub) Create(ctx context.Context, m *models.Message) error {
	return s.createFn(ctx, m)
}
func (s *messageRepoStub) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return s.getByIDFn(ctx, id)
}
func (s *messageRepoStub) Conversation(ctx context.Context, a, b string, offset, limit int) ([]*models.Message, error) {
	return s.conversationFn(ctx, a, b, offset, limit)
}
func (s *messageRepoStub) ListForReceiver(ctx context.Context, id string) ([]*models.Message, error) {
	return s.listForReceiverFn(ctx, id)
}
func (s *messageRepoStub) RecentCounterparts(ctx context.Context, id string) ([]repository.ChatCounterpart, error) {
	return s.recentCounterpartsFn(ctx, id)
}
func (s *messageRepoStub) MarkRead(ctx context.Context, sender, receiver string, at time.Time) (int64, error) {
	return s.markReadFn(ctx, sender, receiver, at)
}
func (s *messageRepoStub) CountUnread(ctx context.Context, id string) (int64, error) {
	return s.countUnreadFn(ctx, id)
}

func noopMessageRepo() *messageRepoStub {
	return &messageRepoStub{
		createFn: func(_ context.Context, m *models.Message) error {
			m.ID = "msg-1"
			return nil
		},
		getByIDFn: func(_ context.Context, id string) (*models.Message, error) {
			return nil, models.NewNotFoundError("Message", id)
		},
		conversationFn:    func(context.Context, string, string, int, int) ([]*models.Message, error) { return nil, nil },
		listForReceiverFn: func(context.Context, string) ([]*models.Message, error) { return nil, nil },
		recentCounterpartsFn: func(context.Context, string) ([]repository.ChatCounterpart, error) {
			return nil, nil
		},
		markReadFn:    func(context.Context, string, string, time.Time) (int64, error) { return 0, nil },
		countUnreadFn: func(context.Context, string) (int64, error) { return 0, nil },
	}
}

type pushed struct {
	userID  string
	event   string
	payload any
}

// recordingNotifier captures pushes instead of delivering them.
type recordingNotifier struct {
	mu     sync.Mutex
	events []pushed
}

func (n *recordingNotifier) NotifyUser(userID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, pushed{userID: userID, event: event, payload: payload})
}

func (n *recordingNotifier) all() []pushed {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pushed(nil), n.events...)
}

type staticPresence map[string]bool

func (p staticPresence) IsOnline(_ context.Context, userID string) bool { return p[userID] }

var errDB = errors.New("db down")

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected *models.AppError, got %T", err)
	require.Equal(t, code, appErr.Code)
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeValidation)
}

// setupServiceDB returns an isolated in-memory database for tests that run
// services against the real repositories.
func setupServiceDB(t *testing.T) *gorm.DB {
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

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com", LastActive: baseTime.Add(-time.Hour)}
	require.NoError(t, db.Create(u).Error)
	return u
}

func mustPost(t *testing.T, db *gorm.DB, author *models.User) *models.Post {
	t.Helper()
	p := &models.Post{UserID: author.ID, Content: "a post", CreatedAt: baseTime}
	require.NoError(t, db.Create(p).Error)
	return p
}

// clock returns a now func that advances one second per call.
func clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

package repository

import (
	"context"
	"testing"

	"readaddicts/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCommentRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	post := seedPost(t, db, alice)

	c := &models.Comment{UserID: alice.ID, PostID: post.ID, Content: "first"}
	require.NoError(t, repo.Create(ctx, c))
	assert.NotEmpty(t, c.ID)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
	require.NotNil(t, got.User)
	assert.Equal(t, "alice", got.User.Username)
	assert.Nil(t, got.ParentID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestCommentRepository_UpdateContentRequiresOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	post := seedPost(t, db, alice)
	c := seedComment(t, db, alice, post, nil, 0)

	err := repo.UpdateContent(ctx, c.ID, bob.ID, "hijack", baseTime)
	assert.ErrorIs(t, err, ErrNoRowsAffected)

	require.NoError(t, repo.UpdateContent(ctx, c.ID, alice.ID, "edited", baseTime))
	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	require.NotNil(t, got.ModifiedAt)
}

func TestCommentRepository_TopLevelPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	post := seedPost(t, db, alice)
	other := seedPost(t, db, alice)

	var roots []*models.Comment
	for i := 0; i < 5; i++ {
		roots = append(roots, seedComment(t, db, alice, post, nil, i))
	}
	seedComment(t, db, alice, post, roots[4], 10)
	seedComment(t, db, alice, other, nil, 11)

	count, err := repo.CountTopLevelByPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	page1, err := repo.ListTopLevelByPost(ctx, post.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, roots[4].ID, page1[0].ID)
	assert.Equal(t, roots[3].ID, page1[1].ID)

	page3, err := repo.ListTopLevelByPost(ctx, post.ID, 4, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, roots[0].ID, page3[0].ID)
	for _, c := range append(page1, page3...) {
		assert.Nil(t, c.ParentID)
	}
}

func TestCommentRepository_ReplyCounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	post := seedPost(t, db, alice)
	root := seedComment(t, db, alice, post, nil, 0)
	lonely := seedComment(t, db, alice, post, nil, 1)
	r1 := seedComment(t, db, alice, post, root, 2)
	seedComment(t, db, alice, post, root, 3)
	seedComment(t, db, alice, post, r1, 4)

	n, err := repo.CountReplies(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	replies, err := repo.ListReplies(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, r1.ID, replies[0].ID)

	counts, err := repo.CountRepliesFor(ctx, []string{root.ID, lonely.ID, r1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[root.ID])
	assert.Equal(t, int64(1), counts[r1.ID])
	_, ok := counts[lonely.ID]
	assert.False(t, ok)
}

func TestCommentRepository_DeleteTreeCascades(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	post := seedPost(t, db, alice)

	root := seedComment(t, db, alice, post, nil, 0)
	sibling := seedComment(t, db, alice, post, nil, 1)
	child := seedComment(t, db, bob, post, root, 2)
	grandchild := seedComment(t, db, alice, post, child, 3)
	seedComment(t, db, bob, post, grandchild, 4)
	keep := seedComment(t, db, bob, post, sibling, 5)

	removed, err := repo.DeleteTree(ctx, root.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	var remaining []string
	require.NoError(t, db.Model(&models.Comment{}).Order("created_at").Pluck("id", &remaining).Error)
	assert.Equal(t, []string{sibling.ID, keep.ID}, remaining)

	replies, err := repo.ListReplies(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, replies)
}

// setupCascadeDB mirrors the Postgres comments table, including the
// self-referencing ON DELETE CASCADE that AutoMigrate does not create.
func setupCascadeDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := setupTestDB(t)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	require.NoError(t, db.Migrator().DropTable(&models.Comment{}))
	require.NoError(t, db.Exec(`CREATE TABLE comments (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		post_id VARCHAR(36) NOT NULL,
		parent_id VARCHAR(36) REFERENCES comments (id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at DATETIME,
		modified_at DATETIME
	)`).Error)
	return db
}

func TestCommentRepository_DeleteTreeCountsPastBatchesWithCascade(t *testing.T) {
	db := setupCascadeDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	post := seedPost(t, db, alice)
	root := seedComment(t, db, alice, post, nil, 0)

	// Enough children that the breadth-first list spans several batches,
	// each child with one reply of its own.
	const fanOut = batchSize + 100
	rows := make([]*models.Comment, 0, 2*fanOut)
	for i := 0; i < fanOut; i++ {
		rootID := root.ID
		child := &models.Comment{ID: uuid.NewString(), UserID: alice.ID, PostID: post.ID, ParentID: &rootID, Content: "child", CreatedAt: baseTime}
		childID := child.ID
		reply := &models.Comment{ID: uuid.NewString(), UserID: alice.ID, PostID: post.ID, ParentID: &childID, Content: "reply", CreatedAt: baseTime}
		rows = append(rows, child, reply)
	}
	require.NoError(t, db.Omit("User").CreateInBatches(rows, 200).Error)

	removed, err := repo.DeleteTree(ctx, root.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*fanOut+1), removed)

	var count int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCommentRepository_DeleteTreeWrongOwnerRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	post := seedPost(t, db, alice)
	root := seedComment(t, db, alice, post, nil, 0)
	seedComment(t, db, bob, post, root, 1)

	removed, err := repo.DeleteTree(ctx, root.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNoRowsAffected)
	assert.Zero(t, removed)

	var count int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestCommentRepository_ByUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	post := seedPost(t, db, alice)
	root := seedComment(t, db, alice, post, nil, 0)
	seedComment(t, db, bob, post, root, 1)
	newest := seedComment(t, db, alice, post, root, 2)

	count, err := repo.CountByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	list, err := repo.ListByUser(ctx, alice.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newest.ID, list[0].ID)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 2))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
}

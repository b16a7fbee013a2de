package repository

import (
	"context"
	"errors"
	"time"

	"readaddicts/internal/models"
	"readaddicts/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations. Replies are
// addressed through parent_id only; the tree is never materialised in storage.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	UpdateContent(ctx context.Context, id, userID, content string, modifiedAt time.Time) error
	DeleteTree(ctx context.Context, id, userID string) (int64, error)

	ListReplies(ctx context.Context, parentID string) ([]*models.Comment, error)
	CountReplies(ctx context.Context, parentID string) (int64, error)
	CountRepliesFor(ctx context.Context, parentIDs []string) (map[string]int64, error)

	ListTopLevelByPost(ctx context.Context, postID string, offset, limit int) ([]*models.Comment, error)
	CountTopLevelByPost(ctx context.Context, postID string) (int64, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Comment, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger("comments")}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	defer observability.TrackQuery("create", "comments")()

	res := r.db.WithContext(ctx).Omit("User").Create(comment)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return models.NewNotFoundError("Post", comment.PostID)
		}
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&comment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Comment", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &comment, nil
}

// UpdateContent only touches a comment owned by userID.
func (r *commentRepository) UpdateContent(ctx context.Context, id, userID, content string, modifiedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"content":     content,
			"modified_at": modifiedAt,
		})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	r.log.LogUpdate(ctx, map[string]any{"comment_id": id})
	return nil
}

// DeleteTree removes the comment owned by userID together with every
// descendant reply, in one transaction. It returns the number of rows removed.
func (r *commentRepository) DeleteTree(ctx context.Context, id, userID string) (int64, error) {
	defer observability.TrackQuery("delete_tree", "comments")()

	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		descendants, err := descendantIDs(tx, id)
		if err != nil {
			return err
		}

		// Deepest first, so ON DELETE CASCADE on parent_id never removes rows
		// a later batch still has to count. The root goes last: its ownership
		// match decides whether anything commits.
		for i, j := 0, len(descendants)-1; i < j; i, j = i+1, j-1 {
			descendants[i], descendants[j] = descendants[j], descendants[i]
		}
		for _, batch := range chunk(descendants, batchSize) {
			res := tx.Where("id IN ?", batch).Delete(&models.Comment{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}

		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoRowsAffected
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoRowsAffected) {
			return 0, err
		}
		r.log.LogError(ctx, err, "delete_tree")
		return 0, models.NewInternalError(err)
	}

	r.log.LogDelete(ctx, map[string]any{"comment_id": id, "removed": removed})
	return removed, nil
}

// descendantIDs walks the reply graph level by level from rootID.
func descendantIDs(tx *gorm.DB, rootID string) ([]string, error) {
	seen := map[string]struct{}{rootID: {}}
	frontier := []string{rootID}
	var out []string

	for len(frontier) > 0 {
		var next []string
		for _, batch := range chunk(frontier, batchSize) {
			var children []string
			if err := tx.Model(&models.Comment{}).Where("parent_id IN ?", batch).Pluck("id", &children).Error; err != nil {
				return nil, err
			}
			for _, child := range children {
				if _, ok := seen[child]; ok {
					continue
				}
				seen[child] = struct{}{}
				out = append(out, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	return out, nil
}

// ListReplies returns the direct children of parentID, oldest first.
func (r *commentRepository) ListReplies(ctx context.Context, parentID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("parent_id = ?", parentID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return comments, nil
}

func (r *commentRepository) CountReplies(ctx context.Context, parentID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Comment{}).Where("parent_id = ?", parentID).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

type replyCountRow struct {
	ParentID string
	Count    int64
}

// CountRepliesFor counts direct children for each id in one grouped query.
// Ids without replies are absent from the map.
func (r *commentRepository) CountRepliesFor(ctx context.Context, parentIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(parentIDs))
	for _, batch := range chunk(parentIDs, batchSize) {
		var rows []replyCountRow
		err := r.db.WithContext(ctx).
			Model(&models.Comment{}).
			Select("parent_id, COUNT(*) AS count").
			Where("parent_id IN ?", batch).
			Group("parent_id").
			Scan(&rows).Error
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		for _, row := range rows {
			counts[row.ParentID] = row.Count
		}
	}
	return counts, nil
}

// ListTopLevelByPost pages a post's root comments, newest first.
func (r *commentRepository) ListTopLevelByPost(ctx context.Context, postID string, offset, limit int) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ? AND parent_id IS NULL", postID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&comments).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return comments, nil
}

func (r *commentRepository) CountTopLevelByPost(ctx context.Context, postID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("post_id = ? AND parent_id IS NULL", postID).
		Count(&count).Error
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *commentRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&comments).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return comments, nil
}

func (r *commentRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Comment{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

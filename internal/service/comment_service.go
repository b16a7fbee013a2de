package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"readaddicts/internal/models"
	"readaddicts/internal/observability"
	"readaddicts/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const maxCommentLen = 10000

type CommentService struct {
	commentRepo   repository.CommentRepository
	postRepo      repository.PostRepository
	userRepo      repository.UserRepository
	maxReplyDepth int
	maxPageLimit  int
	now           func() time.Time
}

// CommentServiceOptions bounds reply resolution and page sizes.
// MaxReplyDepth of zero resolves the whole subtree.
type CommentServiceOptions struct {
	MaxReplyDepth int
	MaxPageLimit  int
}

type CreateCommentInput struct {
	UserID   string
	PostID   string
	ParentID string
	Content  string
}

type UpdateCommentInput struct {
	UserID    string
	CommentID string
	Content   string
}

type DeleteCommentInput struct {
	UserID    string
	CommentID string
}

func NewCommentService(
	commentRepo repository.CommentRepository,
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	opts CommentServiceOptions,
) *CommentService {
	return &CommentService{
		commentRepo:   commentRepo,
		postRepo:      postRepo,
		userRepo:      userRepo,
		maxReplyDepth: opts.MaxReplyDepth,
		maxPageLimit:  opts.MaxPageLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func validateCommentContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", models.NewValidationError("Content is required")
	}
	if len(content) > maxCommentLen {
		return "", models.NewValidationError("Comment too long (max 10000 characters)")
	}
	return content, nil
}

// CreateComment stores a top-level comment or, when ParentID is set, a reply
// to an existing comment on the same post.
func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.CommentDTO, error) {
	content, err := validateCommentContent(in.Content)
	if err != nil {
		return nil, err
	}

	exists, err := s.postRepo.Exists(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.NewNotFoundError("Post", in.PostID)
	}

	var parentID *string
	if trimmed := strings.TrimSpace(in.ParentID); trimmed != "" {
		parent, err := s.commentRepo.GetByID(ctx, trimmed)
		if err != nil {
			return nil, err
		}
		if parent.PostID != in.PostID {
			return nil, models.NewValidationError("Parent comment belongs to a different post")
		}
		parentID = &trimmed
	}

	comment := &models.Comment{
		UserID:    in.UserID,
		PostID:    in.PostID,
		ParentID:  parentID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, models.NewPersistenceError("create comment")
		}
		return nil, err
	}

	kind := "top_level"
	if !comment.IsTopLevel() {
		kind = "reply"
	}
	observability.CommentsCreated.WithLabelValues(kind).Inc()

	return comment.ToDTO(), nil
}

// UpdateComment replaces the content of a comment owned by the caller.
func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (*models.CommentDTO, error) {
	content, err := validateCommentContent(in.Content)
	if err != nil {
		return nil, err
	}

	comment, err := s.commentRepo.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if comment.UserID != in.UserID {
		return nil, models.NewForbiddenError("You can only edit your own comments")
	}

	modified := s.now()
	if err := s.commentRepo.UpdateContent(ctx, comment.ID, in.UserID, content, modified); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, models.NewPersistenceError("update comment")
		}
		return nil, err
	}

	comment.Content = content
	comment.ModifiedAt = &modified
	return comment.ToDTO(), nil
}

// DeleteComment removes a comment owned by the caller together with every
// transitive reply. It returns the number of comments removed.
func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (int64, error) {
	comment, err := s.commentRepo.GetByID(ctx, in.CommentID)
	if err != nil {
		return 0, err
	}
	if comment.UserID != in.UserID {
		return 0, models.NewForbiddenError("You can only delete your own comments")
	}

	removed, err := s.commentRepo.DeleteTree(ctx, comment.ID, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return 0, models.NewPersistenceError("delete comment")
		}
		return 0, err
	}

	observability.CommentCascadeSize.Observe(float64(removed))
	return removed, nil
}

// GetComment returns the comment with its full reply subtree. ReplyCount is
// counted separately from the resolved children, as in GetReplies.
func (s *CommentService) GetComment(ctx context.Context, id string) (*models.CommentDTO, error) {
	comment, err := s.commentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	children, err := s.resolveReplies(ctx, comment.ID)
	if err != nil {
		return nil, err
	}
	count, err := s.commentRepo.CountReplies(ctx, comment.ID)
	if err != nil {
		return nil, err
	}

	dto := comment.ToDTO()
	dto.Children = children
	dto.ReplyCount = count
	return dto, nil
}

// GetReplies returns the direct replies of parentID, oldest first, each
// carrying its own nested replies and a replyCount of its direct children.
// An unknown parent yields an empty list.
func (s *CommentService) GetReplies(ctx context.Context, parentID string) ([]*models.CommentDTO, error) {
	return s.resolveReplies(ctx, parentID)
}

type pendingReply struct {
	node  *models.CommentDTO
	depth int
}

func (s *CommentService) resolveReplies(ctx context.Context, rootID string) ([]*models.CommentDTO, error) {
	span, ctx := observability.NewSpan(ctx, "comments.resolve_replies",
		attribute.String("comment.root_id", rootID),
		attribute.Int("comment.max_depth", s.maxReplyDepth),
	)
	defer span.End()

	root := &models.CommentDTO{ID: rootID, Children: []*models.CommentDTO{}}
	queue := []pendingReply{{node: root}}
	visited := map[string]struct{}{rootID: {}}
	nodes := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if s.maxReplyDepth > 0 && cur.depth >= s.maxReplyDepth {
			continue
		}

		replies, err := s.commentRepo.ListReplies(ctx, cur.node.ID)
		if err != nil {
			span.SetError(err)
			return nil, err
		}

		for _, reply := range replies {
			if _, seen := visited[reply.ID]; seen {
				continue
			}
			visited[reply.ID] = struct{}{}

			count, err := s.commentRepo.CountReplies(ctx, reply.ID)
			if err != nil {
				span.SetError(err)
				return nil, err
			}

			dto := reply.ToDTO()
			dto.ReplyCount = count
			cur.node.Children = append(cur.node.Children, dto)
			queue = append(queue, pendingReply{node: dto, depth: cur.depth + 1})
			nodes++
		}
	}

	span.AddAttributes(attribute.Int("comment.tree_nodes", nodes))
	observability.ReplyTreeNodes.Observe(float64(nodes))
	return root.Children, nil
}

// GetPostComments pages through a post's top-level comments, newest first.
// Replies are counted but not resolved.
func (s *CommentService) GetPostComments(ctx context.Context, postID string, page Page) (*models.DataCountPages[*models.CommentDTO], error) {
	offset, limit, err := page.offset(s.maxPageLimit)
	if err != nil {
		return nil, err
	}

	var (
		comments []*models.Comment
		count    int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		comments, err = s.commentRepo.ListTopLevelByPost(gctx, postID, offset, limit)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = s.commentRepo.CountTopLevelByPost(gctx, postID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dtos, err := s.withReplyCounts(ctx, comments)
	if err != nil {
		return nil, err
	}
	return models.NewDataCountPages(dtos, count, limit), nil
}

// GetCommentsByUser pages through everything a user has commented, newest
// first. An unknown username yields an empty page.
func (s *CommentService) GetCommentsByUser(ctx context.Context, username string, page Page) (*models.DataCountPages[*models.CommentDTO], error) {
	offset, limit, err := page.offset(s.maxPageLimit)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return models.NewDataCountPages[*models.CommentDTO](nil, 0, limit), nil
	}

	var (
		comments []*models.Comment
		count    int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		comments, err = s.commentRepo.ListByUser(gctx, user.ID, offset, limit)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = s.commentRepo.CountByUser(gctx, user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dtos, err := s.withReplyCounts(ctx, comments)
	if err != nil {
		return nil, err
	}
	return models.NewDataCountPages(dtos, count, limit), nil
}

func (s *CommentService) withReplyCounts(ctx context.Context, comments []*models.Comment) ([]*models.CommentDTO, error) {
	if len(comments) == 0 {
		return []*models.CommentDTO{}, nil
	}

	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	counts, err := s.commentRepo.CountRepliesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	dtos := make([]*models.CommentDTO, len(comments))
	for i, c := range comments {
		dto := c.ToDTO()
		dto.ReplyCount = counts[c.ID]
		dtos[i] = dto
	}
	return dtos, nil
}

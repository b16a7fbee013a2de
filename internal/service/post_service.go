package service

import (
	"context"
	"strings"
	"time"

	"readaddicts/internal/models"
	"readaddicts/internal/repository"
)

const maxPostLen = 20000

type PostService struct {
	postRepo repository.PostRepository
	now      func() time.Time
}

type CreatePostInput struct {
	UserID  string
	Content string
}

func NewPostService(postRepo repository.PostRepository) *PostService {
	return &PostService{
		postRepo: postRepo,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, models.NewValidationError("Content is required")
	}
	if len(content) > maxPostLen {
		return nil, models.NewValidationError("Post too long (max 20000 characters)")
	}

	post := &models.Post{
		UserID:    in.UserID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *PostService) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return s.postRepo.GetByID(ctx, id)
}

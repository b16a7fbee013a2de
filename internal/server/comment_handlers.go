package server

import (
	"readaddicts/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateComment creates a top-level comment or a reply (protected)
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req struct {
		Content  string `json:"content"`
		PostID   string `json:"postId"`
		ParentID string `json:"parentId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.PostID == "" {
		return badRequest(c, "postId is required")
	}

	created, err := s.commentService.CreateComment(c.UserContext(), service.CreateCommentInput{
		UserID:   callerID(c),
		PostID:   req.PostID,
		ParentID: req.ParentID,
		Content:  req.Content,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateComment edits the caller's own comment (protected)
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	id, ok := param(c, "id")
	if !ok {
		return badRequest(c, "Invalid comment ID")
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	updated, err := s.commentService.UpdateComment(c.UserContext(), service.UpdateCommentInput{
		UserID:    callerID(c),
		CommentID: id,
		Content:   req.Content,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(updated)
}

// DeleteComment removes the caller's comment and every reply beneath it (protected)
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	id, ok := param(c, "id")
	if !ok {
		return badRequest(c, "Invalid comment ID")
	}

	removed, err := s.commentService.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		UserID:    callerID(c),
		CommentID: id,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": removed})
}

// GetComment returns a comment with its whole reply subtree (public)
func (s *Server) GetComment(c *fiber.Ctx) error {
	id, ok := param(c, "id")
	if !ok {
		return badRequest(c, "Invalid comment ID")
	}

	comment, err := s.commentService.GetComment(c.UserContext(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(comment)
}

// GetReplies returns the reply subtree under a comment (public)
func (s *Server) GetReplies(c *fiber.Ctx) error {
	id, ok := param(c, "id")
	if !ok {
		return badRequest(c, "Invalid comment ID")
	}

	replies, err := s.commentService.GetReplies(c.UserContext(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(replies)
}

// GetPostComments returns one page of a post's top-level comments, newest first (public)
func (s *Server) GetPostComments(c *fiber.Ctx) error {
	postID, ok := param(c, "id")
	if !ok {
		return badRequest(c, "Invalid post ID")
	}
	page, err := parsePage(c, defaultCommentPageSize)
	if err != nil {
		return respondServiceError(c, err)
	}

	result, err := s.commentService.GetPostComments(c.UserContext(), postID, page)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(result)
}

// GetUserComments returns one page of a user's comments, newest first (public)
func (s *Server) GetUserComments(c *fiber.Ctx) error {
	username, ok := param(c, "username")
	if !ok {
		return badRequest(c, "Invalid username")
	}
	page, err := parsePage(c, defaultCommentPageSize)
	if err != nil {
		return respondServiceError(c, err)
	}

	result, err := s.commentService.GetCommentsByUser(c.UserContext(), username, page)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(result)
}

// CreatePost creates a post comments can attach to (protected)
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	post, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		UserID:  callerID(c),
		Content: req.Content,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPost returns a single post (public)
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, ok := param(c, "id")
	if !ok {
		return badRequest(c, "Invalid post ID")
	}

	post, err := s.postService.GetPost(c.UserContext(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(post)
}

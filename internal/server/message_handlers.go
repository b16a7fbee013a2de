package server

import (
	"readaddicts/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessage persists a direct message and pushes it to the receiver (protected)
func (s *Server) SendMessage(c *fiber.Ctx) error {
	receiverID, ok := param(c, "receiverId")
	if !ok {
		return badRequest(c, "Invalid receiver ID")
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	msg, err := s.messageService.Send(c.UserContext(), service.SendMessageInput{
		SenderID:   callerID(c),
		ReceiverID: receiverID,
		Content:    req.Content,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GetUserMessages returns every message the caller received, newest first (protected)
func (s *Server) GetUserMessages(c *fiber.Ctx) error {
	msgs, err := s.messageService.GetUserMessages(c.UserContext(), callerID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(msgs)
}

// GetConversation returns one page of the conversation with another user in
// chronological order; page 1 is the most recent tail (protected)
func (s *Server) GetConversation(c *fiber.Ctx) error {
	otherID, ok := param(c, "userId")
	if !ok {
		return badRequest(c, "Invalid user ID")
	}
	page, err := parsePage(c, defaultMessagePageSize)
	if err != nil {
		return respondServiceError(c, err)
	}

	msgs, err := s.messageService.GetConversation(c.UserContext(), callerID(c), otherID, page)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(msgs)
}

// GetRecentChats lists conversation counterparts, most recent first (protected)
func (s *Server) GetRecentChats(c *fiber.Ctx) error {
	chats, err := s.messageService.GetRecentChats(c.UserContext(), callerID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(chats)
}

// ReadMessages marks everything senderId sent the caller as read (protected)
func (s *Server) ReadMessages(c *fiber.Ctx) error {
	senderID, ok := param(c, "senderId")
	if !ok {
		return badRequest(c, "Invalid sender ID")
	}

	n, err := s.messageService.ReadMessages(c.UserContext(), senderID, callerID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"read": n})
}

// GetMessageNotificationCount returns the caller's unread message count (protected)
func (s *Server) GetMessageNotificationCount(c *fiber.Ctx) error {
	n, err := s.messageService.GetMessageNotificationCount(c.UserContext(), callerID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

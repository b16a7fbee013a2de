package server

import (
	"errors"
	"strconv"
	"strings"

	"readaddicts/internal/models"
	"readaddicts/internal/service"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultCommentPageSize = 10
	defaultMessagePageSize = 20
)

// statusFor maps an AppError code onto an HTTP status. Anything that is not
// an AppError is an internal failure.
func statusFor(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodePersistence:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// respondServiceError writes err with the status its code maps to.
func respondServiceError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewInternalError(err)
	}
	return models.RespondWithError(c, statusFor(err), err)
}

func badRequest(c *fiber.Ctx, message string) error {
	return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError(message))
}

// callerID returns the authenticated user id set by the auth middleware.
func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// param returns a trimmed, non-empty route parameter.
func param(c *fiber.Ctx, name string) (string, bool) {
	v := strings.TrimSpace(c.Params(name))
	return v, v != ""
}

// parsePage reads page and limit query parameters. Missing values fall back
// to page 1 and defaultLimit; present but non-numeric values are rejected.
func parsePage(c *fiber.Ctx, defaultLimit int) (service.Page, error) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return service.Page{}, err
	}
	limit, err := queryInt(c, "limit", defaultLimit)
	if err != nil {
		return service.Page{}, err
	}
	return service.Page{Page: page, Limit: limit}, nil
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	return queryIntValue(c.Query(key), key, def)
}

func queryIntValue(raw, key string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError("Invalid " + key)
	}
	return v, nil
}

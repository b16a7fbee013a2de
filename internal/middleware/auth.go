// Package middleware provides authentication, logging, tracing and rate limiting middleware for the application.
package middleware

import (
	"context"
	"errors"
	"strings"

	"readaddicts/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errInvalidToken   = errors.New("Invalid or expired token")
	errInvalidClaims  = errors.New("Invalid token claims")
	errMissingSubject = errors.New("Invalid token structure - missing subject")
)

// subjectFromToken validates an HMAC-signed token and returns its "sub" claim.
// Tokens are minted by the identity service; this side only verifies them.
func subjectFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidClaims
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// AuthRequired is a middleware that enforces authentication for protected routes.
// The caller id is stored as a string in c.Locals("userID").
func AuthRequired(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err)
	}

	userID, err := subjectFromToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}

	setCaller(c, userID)
	return c.Next()
}

// WebSocketAuthRequired validates JWT tokens from the "token" query parameter,
// falling back to the Authorization header. Browsers cannot set headers on
// websocket upgrades.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	tokenString := c.Query("token")
	if tokenString == "" {
		var err error
		tokenString, err = bearerToken(c)
		if err != nil {
			return unauthorized(c, err)
		}
	}

	userID, err := subjectFromToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}

	setCaller(c, userID)
	return c.Next()
}

// setCaller stores the caller id for handlers and for the context-aware logger.
func setCaller(c *fiber.Ctx, userID string) {
	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))
}

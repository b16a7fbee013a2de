package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"readaddicts/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:4200"

func newMiddlewareApp(env string) *fiber.App {
	srv := &Server{config: &config.Config{AllowedOrigins: testOrigin, Env: env}}
	app := fiber.New()
	srv.SetupMiddleware(app)
	app.All("/limited", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func saturate(t *testing.T, app *fiber.App, method string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(method, "/limited", nil)
		req.Header.Set("Origin", testOrigin)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestSetupMiddleware_RateLimitedResponseIncludesCORSHeaders(t *testing.T) {
	app := newMiddlewareApp("development")
	saturate(t, app, http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.Header.Set("Origin", testOrigin)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSetupMiddleware_PreflightBypassesLimiter(t *testing.T) {
	app := newMiddlewareApp("development")
	saturate(t, app, http.MethodPost)

	preflightReq := httptest.NewRequest(http.MethodOptions, "/limited", nil)
	preflightReq.Header.Set("Origin", testOrigin)
	preflightReq.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflightReq.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	resp, err := app.Test(preflightReq, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestSetupMiddleware_TestEnvSkipsLimiter(t *testing.T) {
	app := newMiddlewareApp("test")
	saturate(t, app, http.MethodGet)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/limited", nil), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSetupMiddleware_SecurityHeadersAndRequestID(t *testing.T) {
	app := newMiddlewareApp("test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/limited", nil), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.NotEmpty(t, resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}

package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"component-deployer/internal/config"
)

const secret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("ci", []string{RoleAdmin}, secret)
	require.NoError(t, err)

	claims, err := ParseAccessToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, []string{RoleAdmin}, claims.Roles)

	_, err = ParseAccessToken(token, "other-secret")
	assert.Error(t, err)
}

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckSecret("hunter2", hash))
	assert.False(t, CheckSecret("hunter3", hash))
}

func TestPrincipalRoles(t *testing.T) {
	var nobody *Principal
	assert.False(t, nobody.IsAdmin())
	assert.True(t, (&Principal{Roles: []string{"reader", RoleAdmin}}).IsAdmin())
	assert.False(t, (&Principal{Roles: []string{"reader"}}).IsAdmin())
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)

	app := fiber.New()
	RegisterRoutes(app, NewHandler([]config.ClientConfig{
		{ID: "ci", SecretHash: hash, Roles: []string{RoleAdmin}},
		{ID: "viewer", SecretHash: hash},
	}, secret))
	app.Get("/me", Middleware(secret), func(c *fiber.Ctx) error {
		return c.SendString(GetPrincipal(c).ID)
	})
	app.Post("/admin", Middleware(secret), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func requestToken(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestTokenEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp := requestToken(t, app, `{"client_id":"ci","client_secret":"s3cret"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"access_token"`)

	resp = requestToken(t, app, `{"client_id":"ci","client_secret":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = requestToken(t, app, `{"client_id":"ghost","client_secret":"s3cret"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	app := newTestApp(t)

	admin, err := GenerateAccessToken("ci", []string{RoleAdmin}, secret)
	require.NoError(t, err)
	viewer, err := GenerateAccessToken("viewer", nil, secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodGet, "/me", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/me", "Basic abc", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/me", "Bearer abc", http.StatusUnauthorized},
		{"valid token", http.MethodGet, "/me", "Bearer " + viewer, http.StatusOK},
		{"viewer on admin route", http.MethodPost, "/admin", "Bearer " + viewer, http.StatusForbidden},
		{"admin on admin route", http.MethodPost, "/admin", "Bearer " + admin, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

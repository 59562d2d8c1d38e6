package auth

import (
	"github.com/gofiber/fiber/v2"

	"component-deployer/internal/config"
)

// Handler exchanges client credentials for access tokens.
type Handler struct {
	clients   map[string]config.ClientConfig
	jwtSecret string
}

func NewHandler(clients []config.ClientConfig, jwtSecret string) *Handler {
	h := &Handler{clients: make(map[string]config.ClientConfig, len(clients)), jwtSecret: jwtSecret}
	for _, c := range clients {
		h.clients[c.ID] = c
	}
	return h
}

// Token handles POST /api/auth/token.
func (h *Handler) Token(c *fiber.Ctx) error {
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if body.ClientID == "" || body.ClientSecret == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "client_id and client_secret are required")
	}

	client, ok := h.clients[body.ClientID]
	if !ok || !CheckSecret(body.ClientSecret, client.SecretHash) {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid client credentials")
	}

	token, err := GenerateAccessToken(client.ID, client.Roles, h.jwtSecret)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(AccessTokenTTL.Seconds()),
	}})
}

// RegisterRoutes registers the token endpoint.
func RegisterRoutes(app fiber.Router, h *Handler) {
	app.Post("/api/auth/token", h.Token)
}

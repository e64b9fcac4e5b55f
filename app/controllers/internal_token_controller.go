package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
	"github.com/ManuelReschke/MarketLink/internal/pkg/tokens"
)

// TokenProvider is the credential consumer contract.
type TokenProvider interface {
	GetValidToken(ctx context.Context, userID uint, provider string) (string, error)
}

// InternalTokenController serves valid access tokens to the sync workers.
// Routes using it must sit behind the internal secret middleware.
type InternalTokenController struct {
	tokens    TokenProvider
	providers Providers
}

func NewInternalTokenController(t TokenProvider, p Providers) *InternalTokenController {
	return &InternalTokenController{tokens: t, providers: p}
}

// HandleGetToken returns {"access_token": ...} for one connection.
func (ic *InternalTokenController) HandleGetToken(c *fiber.Ctx) error {
	name := c.Params("provider")
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 64)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}
	if !ic.providers.Known(name) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown provider"})
	}

	c.Set(fiber.HeaderCacheControl, "no-store")

	token, err := ic.tokens.GetValidToken(c.UserContext(), uint(userID), name)
	if err != nil {
		status, code := tokenErrorStatus(err)
		logger.FromCtx(c).Warn("internal_token_failed",
			zap.String("provider", name),
			zap.Uint64("user_id", userID),
			zap.String("code", code),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
	return c.JSON(fiber.Map{"access_token": token})
}

func tokenErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, tokens.ErrNoConnection):
		return fiber.StatusNotFound, "no_connection"
	case errors.Is(err, tokens.ErrRefreshFailed):
		return fiber.StatusBadGateway, "refresh_failed"
	case errors.Is(err, tokens.ErrInvalidConnectionState):
		return fiber.StatusInternalServerError, "invalid_connection_state"
	default:
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

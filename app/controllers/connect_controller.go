package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/app/repository"
	"github.com/ManuelReschke/MarketLink/internal/pkg/constants"
	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
	"github.com/ManuelReschke/MarketLink/internal/pkg/middleware"
	"github.com/ManuelReschke/MarketLink/internal/pkg/oauthstate"
	"github.com/ManuelReschke/MarketLink/internal/pkg/provider"
	"github.com/ManuelReschke/MarketLink/internal/pkg/syncqueue"
	"github.com/ManuelReschke/MarketLink/internal/pkg/usercontext"
)

const connectTimeout = 2 * provider.RequestTimeout

// Providers is the part of the provider registry the flow needs.
type Providers interface {
	Get(name string) (provider.Adapter, error)
	Known(name string) bool
	Names() []string
}

// OutcomeRecorder counts connect results per provider.
type OutcomeRecorder interface {
	AddConnectOutcome(ctx context.Context, provider, outcome string) error
}

type ConnectDeps struct {
	Config      env.Config
	Providers   Providers
	States      *oauthstate.CookieStore
	Ledger      oauthstate.Ledger
	Connections repository.ConnectionRepository
	Outcomes    OutcomeRecorder
	// Sync is nil unless legacy sync is enabled.
	Sync syncqueue.Enqueuer
	Now  func() time.Time
}

// ConnectController drives initiate, callback and resume for every provider.
type ConnectController struct {
	deps ConnectDeps
}

func NewConnectController(deps ConnectDeps) *ConnectController {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ConnectController{deps: deps}
}

// HandleInitiate starts a connection attempt and redirects to the
// provider's consent page. Static-credential providers connect right away.
func (cc *ConnectController) HandleInitiate(c *fiber.Ctx) error {
	name := c.Params("provider")
	if !cc.deps.Providers.Known(name) {
		return fiber.ErrNotFound
	}

	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect(middleware.LoginRedirect(cc.deps.Config.LoginPath, c.OriginalURL()), fiber.StatusSeeOther)
	}

	adapter, err := cc.deps.Providers.Get(name)
	if err != nil {
		return cc.fail(c, name, userCtx.UserID, err)
	}

	if !adapter.Model().NeedsConsent() {
		return cc.complete(c, userCtx.UserID, adapter, "", "")
	}

	pending, err := cc.deps.States.Issue(c, name, userCtx.UserID, adapter.Model().UsesPKCE())
	if err != nil {
		return cc.fail(c, name, userCtx.UserID, err)
	}
	authURL, err := adapter.AuthorizationURL(pending.Nonce, pending.CodeChallenge())
	if err != nil {
		return cc.fail(c, name, userCtx.UserID, err)
	}
	return c.Redirect(authURL, fiber.StatusSeeOther)
}

// HandleCallback validates the provider redirect and completes the
// connection. The attempt cookies are cleared before anything else happens.
func (cc *ConnectController) HandleCallback(c *fiber.Ctx) error {
	name := c.Params("provider")
	if !cc.deps.Providers.Known(name) {
		return fiber.ErrNotFound
	}

	pending, stateErr := cc.deps.States.Load(c, name)
	cc.deps.States.Clear(c, name)

	userID := usercontext.GetUserID(c)

	adapter, err := cc.deps.Providers.Get(name)
	if err != nil {
		return cc.fail(c, name, userID, err)
	}

	if providerErr := strings.TrimSpace(c.Query("error")); providerErr != "" {
		return cc.fail(c, name, userID, fmt.Errorf("%w: %.64s", ErrProviderDenied, providerErr))
	}

	keys := adapter.CallbackKeys()
	credential := strings.TrimSpace(c.Query(keys.Credential))
	state := strings.TrimSpace(c.Query(keys.State))
	if credential == "" || state == "" {
		return cc.fail(c, name, userID, ErrMissingParams)
	}
	if stateErr != nil {
		return cc.fail(c, name, userID, fmt.Errorf("%w: %w", ErrCsrfValidationFailed, stateErr))
	}
	if !oauthstate.Validate(state, pending.Nonce) {
		return cc.fail(c, name, userID, fmt.Errorf("%w: state does not match nonce", ErrCsrfValidationFailed))
	}
	if cc.deps.Ledger != nil {
		first, err := cc.deps.Ledger.Consume(c.UserContext(), pending.Nonce)
		if err != nil {
			return cc.fail(c, name, userID, err)
		}
		if !first {
			return cc.fail(c, name, userID, fmt.Errorf("%w: nonce already used", ErrCsrfValidationFailed))
		}
	}

	if !usercontext.IsLoggedIn(c) {
		// The session ran out mid-flow: keep the validated callback and
		// finish it once the user has signed in again.
		err := cc.deps.States.Park(c, oauthstate.Parked{
			Provider:     name,
			UserID:       pending.UserID,
			Credential:   credential,
			CodeVerifier: pending.CodeVerifier,
		})
		if err != nil {
			return cc.fail(c, name, 0, err)
		}
		logger.FromCtx(c).Info("connect_parked", zap.String("provider", name))
		return c.Redirect(middleware.LoginRedirect(cc.deps.Config.LoginPath, constants.ResumeRoute), fiber.StatusSeeOther)
	}
	if userID != pending.UserID {
		return cc.fail(c, name, userID, fmt.Errorf("%w: attempt was started by another user", ErrCsrfValidationFailed))
	}

	return cc.complete(c, userID, adapter, credential, pending.CodeVerifier)
}

// HandleResume finishes a callback parked while the user was signed out.
func (cc *ConnectController) HandleResume(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		logger.FromCtx(c).Info("connect_resume_unauthenticated", zap.String("kind", errorKind(ErrAuthenticationRequired)))
		return c.Redirect(middleware.LoginRedirect(cc.deps.Config.LoginPath, constants.ResumeRoute), fiber.StatusSeeOther)
	}
	userID := usercontext.GetUserID(c)

	parked, err := cc.deps.States.TakeParked(c)
	if err != nil {
		return cc.fail(c, "", userID, err)
	}
	if parked.UserID != userID {
		return cc.fail(c, parked.Provider, userID, fmt.Errorf("%w: parked connect belongs to another user", ErrCsrfValidationFailed))
	}
	adapter, err := cc.deps.Providers.Get(parked.Provider)
	if err != nil {
		return cc.fail(c, parked.Provider, userID, err)
	}
	return cc.complete(c, userID, adapter, parked.Credential, parked.CodeVerifier)
}

// HandleDisconnect marks the connection disconnected. Tokens stay sealed in
// place; reconnecting overwrites them.
func (cc *ConnectController) HandleDisconnect(c *fiber.Ctx) error {
	name := c.Params("provider")
	if !cc.deps.Providers.Known(name) {
		return fiber.ErrNotFound
	}
	userID := usercontext.GetUserID(c)

	err := cc.deps.Connections.MarkDisconnected(c.UserContext(), userID, name)
	switch {
	case errors.Is(err, repository.ErrConnectionNotFound):
		return flash.WithError(c, fiber.Map{"type": "error", "message": "No " + name + " connection to disconnect"}).
			Redirect(cc.deps.Config.ConnectPagePath, fiber.StatusSeeOther)
	case err != nil:
		logger.FromCtx(c).Error("disconnect_failed", zap.String("provider", name), zap.Uint("user_id", userID), zap.Error(err))
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Disconnect failed, please try again"}).
			Redirect(cc.deps.Config.ConnectPagePath, fiber.StatusSeeOther)
	}

	logger.FromCtx(c).Info("connection_disconnected", zap.String("provider", name), zap.Uint("user_id", userID))
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": name + " disconnected"}).
		Redirect(cc.deps.Config.ConnectPagePath, fiber.StatusSeeOther)
}

// HandleListConnections returns the signed-in user's connections without
// any token material.
func (cc *ConnectController) HandleListConnections(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	list, err := cc.deps.Connections.ListByUser(c.UserContext(), userID)
	if err != nil {
		logger.FromCtx(c).Error("list_connections_failed", zap.Uint("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not load connections"})
	}
	return c.JSON(fiber.Map{
		"connections": list,
		"providers":   cc.deps.Providers.Names(),
	})
}

// complete exchanges the credential, identifies the seller and stores the
// connection.
func (cc *ConnectController) complete(c *fiber.Ctx, userID uint, adapter provider.Adapter, credential, verifier string) error {
	name := adapter.Name()
	ctx, cancel := context.WithTimeout(c.UserContext(), connectTimeout)
	defer cancel()

	tokens, err := adapter.Exchange(ctx, credential, verifier)
	if err != nil {
		return cc.fail(c, name, userID, err)
	}
	identity, err := adapter.Identify(ctx, tokens.AccessToken)
	if err != nil {
		return cc.fail(c, name, userID, err)
	}

	err = cc.deps.Connections.Upsert(ctx, repository.ConnectionInput{
		UserID:       userID,
		Provider:     name,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt(cc.deps.Now()),
		ExternalID:   identity.ExternalID,
		ExternalName: identity.ExternalName,
	})
	if err != nil {
		return cc.fail(c, name, userID, err)
	}

	log := logger.FromCtx(c)
	cc.recordOutcome(c, name, outcomeConnected)
	if cc.deps.Sync != nil {
		if _, err := cc.deps.Sync.EnqueueInitialSync(ctx, userID, name, identity.ExternalID); err != nil {
			log.Warn("initial_sync_enqueue_failed", zap.String("provider", name), zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	log.Info("connect_succeeded",
		zap.String("provider", name),
		zap.Uint("user_id", userID),
		zap.String("external_id", identity.ExternalID),
	)

	msg := fmt.Sprintf("%s connected as %s", name, identity.ExternalName)
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": msg}).
		Redirect(cc.deps.Config.ConnectPagePath, fiber.StatusSeeOther)
}

// fail logs err and redirects to the error page with its public code.
func (cc *ConnectController) fail(c *fiber.Ctx, name string, userID uint, err error) error {
	code := errorCode(err)
	logger.FromCtx(c).Warn("connect_failed",
		zap.String("kind", errorKind(err)),
		zap.String("code", code),
		zap.String("provider", name),
		zap.Uint("user_id", userID),
		zap.Error(err),
	)
	if name != "" {
		cc.recordOutcome(c, name, code)
	}
	return c.Redirect(errorRedirect(cc.deps.Config.ErrorPagePath, code), fiber.StatusSeeOther)
}

func (cc *ConnectController) recordOutcome(c *fiber.Ctx, name, outcome string) {
	if cc.deps.Outcomes == nil {
		return
	}
	if err := cc.deps.Outcomes.AddConnectOutcome(c.UserContext(), name, outcome); err != nil {
		logger.FromCtx(c).Warn("connect_outcome_not_recorded", zap.String("provider", name), zap.Error(err))
	}
}

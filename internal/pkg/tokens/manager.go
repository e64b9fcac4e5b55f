// Package tokens hands out valid plaintext access tokens for connected
// sellers and refreshes them through the provider adapters when they are
// about to expire.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/MarketLink/app/models"
	"github.com/ManuelReschke/MarketLink/app/repository"
	"github.com/ManuelReschke/MarketLink/internal/pkg/provider"
)

// RefreshBuffer is how long before expiry a token is refreshed.
const RefreshBuffer = 24 * time.Hour

const refreshTimeout = provider.RequestTimeout + 10*time.Second

var (
	ErrNoConnection           = errors.New("tokens: no active connection")
	ErrRefreshFailed          = errors.New("tokens: refresh failed")
	ErrInvalidConnectionState = errors.New("tokens: invalid connection state")
)

// Refreshers resolves the refresh grant of a provider.
type Refreshers interface {
	Refresher(name string) (provider.Refresher, bool, error)
}

// FailurePolicy is told about every refresh outcome. It decides whether
// repeated failures matter; the manager itself never changes a connection's
// status.
type FailurePolicy interface {
	RefreshFailed(ctx context.Context, userID uint, provider string, cause error) error
	RefreshSucceeded(ctx context.Context, userID uint, provider string) error
}

type nopPolicy struct{}

func (nopPolicy) RefreshFailed(context.Context, uint, string, error) error { return nil }
func (nopPolicy) RefreshSucceeded(context.Context, uint, string) error     { return nil }

type Manager struct {
	store      repository.CredentialStore
	refreshers Refreshers
	locker     Locker
	policy     FailurePolicy
	log        *zap.Logger
	now        func() time.Time
	group      singleflight.Group
}

type Option func(*Manager)

func WithLocker(l Locker) Option { return func(m *Manager) { m.locker = l } }

func WithFailurePolicy(p FailurePolicy) Option { return func(m *Manager) { m.policy = p } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(store repository.CredentialStore, refreshers Refreshers, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		refreshers: refreshers,
		locker:     NopLocker{},
		policy:     nopPolicy{},
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns a plaintext access token for (userID, providerName),
// refreshing it first when it expires within RefreshBuffer.
func (m *Manager) GetValidToken(ctx context.Context, userID uint, providerName string) (string, error) {
	creds, err := m.load(ctx, userID, providerName)
	if err != nil {
		return "", err
	}
	if !m.needsRefresh(creds) {
		return creds.AccessToken, nil
	}

	key := strconv.FormatUint(uint64(userID), 10) + ":" + providerName
	v, err, _ := m.group.Do(key, func() (any, error) {
		// Shared by every caller waiting on key, so it must outlive the first caller's request.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(rctx, key, userID, providerName)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) load(ctx context.Context, userID uint, providerName string) (*repository.Credentials, error) {
	creds, err := m.store.LoadCredentials(ctx, userID, providerName)
	if errors.Is(err, repository.ErrConnectionNotFound) {
		return nil, fmt.Errorf("%w: user %d has no %s connection", ErrNoConnection, userID, providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConnectionState, err)
	}
	if creds.Status != models.ConnectionConnected {
		return nil, fmt.Errorf("%w: %s connection is %s", ErrNoConnection, providerName, creds.Status)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s connection has no access token", ErrInvalidConnectionState, providerName)
	}
	return creds, nil
}

func (m *Manager) needsRefresh(creds *repository.Credentials) bool {
	if creds.ExpiresAt == nil {
		return false
	}
	return creds.ExpiresAt.Sub(m.now()) <= RefreshBuffer
}

func (m *Manager) refresh(ctx context.Context, key string, userID uint, providerName string) (string, error) {
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRefreshFailed, providerName, err)
	}
	defer unlock()

	// Another process may have refreshed while we waited for the lock.
	creds, err := m.load(ctx, userID, providerName)
	if err != nil {
		return "", err
	}
	if !m.needsRefresh(creds) {
		return creds.AccessToken, nil
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: %s token expires but has no refresh token", ErrInvalidConnectionState, providerName)
	}

	rf, ok, err := m.refreshers.Refresher(providerName)
	if err != nil {
		return "", m.failed(ctx, userID, providerName, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s token expires but the provider has no refresh grant", ErrInvalidConnectionState, providerName)
	}

	set, err := rf.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return "", m.failed(ctx, userID, providerName, err)
	}

	next := repository.Credentials{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.ExpiresAt(m.now()),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	if err := m.store.SaveRefreshed(ctx, userID, providerName, next); err != nil {
		return "", m.failed(ctx, userID, providerName, err)
	}

	if err := m.policy.RefreshSucceeded(ctx, userID, providerName); err != nil {
		m.log.Warn("refresh_policy_error", zap.String("provider", providerName), zap.Uint("user_id", userID), zap.Error(err))
	}
	if set.ExpiresIn > 0 && set.ExpiresIn <= RefreshBuffer {
		// Every later call will refresh again until the provider issues a
		// longer-lived token.
		m.log.Warn("refreshed_token_inside_buffer",
			zap.String("provider", providerName),
			zap.Uint("user_id", userID),
			zap.Duration("lifetime", set.ExpiresIn),
			zap.Duration("buffer", RefreshBuffer),
		)
	}
	m.log.Info("token_refreshed", zap.String("provider", providerName), zap.Uint("user_id", userID))
	return next.AccessToken, nil
}

func (m *Manager) failed(ctx context.Context, userID uint, providerName string, cause error) error {
	m.log.Warn("token_refresh_failed",
		zap.String("provider", providerName),
		zap.Uint("user_id", userID),
		zap.Error(cause),
	)
	if err := m.policy.RefreshFailed(ctx, userID, providerName, cause); err != nil {
		m.log.Warn("refresh_policy_error", zap.String("provider", providerName), zap.Uint("user_id", userID), zap.Error(err))
	}
	return fmt.Errorf("%w: %s: %w", ErrRefreshFailed, providerName, cause)
}

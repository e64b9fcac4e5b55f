// Package provider holds one adapter per marketplace. Every adapter speaks
// the same small contract (authorize, exchange, identify, and refresh where
// the marketplace has a refresh grant) so the connect flow and the token
// manager never branch on provider names.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Model is the authorization model a marketplace uses.
type Model int

const (
	// ModelAuthCodePKCE is an authorization-code grant bound with PKCE; tokens expire and refresh.
	ModelAuthCodePKCE Model = iota + 1
	// ModelAuthCodeSecret is an authorization-code grant authenticated with a client secret.
	ModelAuthCodeSecret
	// ModelRedirectToken hands the seller token back on the redirect itself; it never expires.
	ModelRedirectToken
	// ModelStaticBearer uses an app-level credential without a per-user handshake.
	ModelStaticBearer
)

func (m Model) String() string {
	switch m {
	case ModelAuthCodePKCE:
		return "authorization_code_pkce"
	case ModelAuthCodeSecret:
		return "authorization_code_secret"
	case ModelRedirectToken:
		return "redirect_token"
	case ModelStaticBearer:
		return "static_bearer"
	default:
		return "unknown"
	}
}

// UsesPKCE reports whether initiate must generate a verifier for m.
func (m Model) UsesPKCE() bool { return m == ModelAuthCodePKCE }

// NeedsConsent is false only for static credentials, which skip the redirect.
func (m Model) NeedsConsent() bool { return m != ModelStaticBearer }

// TokenSet is what an exchange or refresh hands back. A zero ExpiresIn means
// the token does not expire.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// ExpiresAt turns ExpiresIn into an absolute time, nil for permanent tokens.
func (t *TokenSet) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(t.ExpiresIn).UTC()
	return &at
}

// Identity is the seller as the marketplace knows it.
type Identity struct {
	ExternalID   string
	ExternalName string
}

// CallbackKeys names the query parameters a provider uses on its redirect.
type CallbackKeys struct {
	Credential string
	State      string
}

// Adapter is implemented by every marketplace.
type Adapter interface {
	Name() string
	Model() Model
	CallbackKeys() CallbackKeys
	// AuthorizationURL builds the consent URL. challenge is empty for
	// providers that do not use PKCE.
	AuthorizationURL(nonce, challenge string) (string, error)
	// Exchange turns the callback credential (code or token) into tokens.
	Exchange(ctx context.Context, credential, verifier string) (*TokenSet, error)
	Identify(ctx context.Context, accessToken string) (*Identity, error)
}

// Refresher is implemented only by adapters with a genuine refresh grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

var codeCallback = CallbackKeys{Credential: "code", State: "state"}

// checkTokenSet enforces what the connection store relies on: an access
// token is always present and a token that expires can be refreshed.
func checkTokenSet(provider, op string, t *TokenSet) (*TokenSet, error) {
	if t == nil || strings.TrimSpace(t.AccessToken) == "" {
		return nil, &UpstreamError{Provider: provider, Op: op, Excerpt: "response missing access_token"}
	}
	if t.ExpiresIn > 0 && strings.TrimSpace(t.RefreshToken) == "" && op == opExchange {
		return nil, &UpstreamError{Provider: provider, Op: op, Excerpt: "expiring token without refresh_token"}
	}
	return t, nil
}

// newIdentity rejects blank ids or names.
func newIdentity(provider, id, name string) (*Identity, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: %s returned id=%t name=%t", ErrIncompleteIdentity, provider, id != "", name != "")
	}
	return &Identity{ExternalID: id, ExternalName: name}, nil
}

func newIdentityError(provider, field string) error {
	return fmt.Errorf("%w: %s response has no %s", ErrIncompleteIdentity, provider, field)
}

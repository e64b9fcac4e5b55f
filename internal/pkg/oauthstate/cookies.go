package oauthstate

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/securecookie"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// MaxAge caps every pending-authorization cookie.
const MaxAge = 10 * time.Minute

const (
	nonceCookiePrefix = "ml_oauth_nonce_"
	pkceCookiePrefix  = "ml_oauth_pkce_"
	parkedCookieName  = "ml_pending_connect"
)

var (
	// ErrStateMissing means no readable nonce cookie came with the callback.
	ErrStateMissing = errors.New("oauthstate: pending authorization not found")
	// ErrStateExpired means the cookie decoded but is older than MaxAge.
	ErrStateExpired = errors.New("oauthstate: pending authorization expired")
	// ErrNothingParked means there is no pending connect to resume.
	ErrNothingParked = errors.New("oauthstate: no pending connect")
)

// Pending is one authorization attempt as carried by the browser. UserID is
// the signed-in user who started it; only that user may complete it.
type Pending struct {
	Provider     string
	UserID       uint
	Nonce        string
	CodeVerifier string
	CreatedAt    time.Time
}

// CodeChallenge derives the PKCE challenge, or "" when the attempt has none.
func (p *Pending) CodeChallenge() string {
	if p.CodeVerifier == "" {
		return ""
	}
	return Challenge(p.CodeVerifier)
}

// Parked records a callback that arrived after the user's session expired.
// The credential is the authorization code or redirect token from the
// provider; the cookie holding it is encrypted.
type Parked struct {
	Provider     string
	UserID       uint
	Credential   string
	CodeVerifier string
	CreatedAt    time.Time
}

type nonceCookie struct {
	Provider  string
	UserID    uint
	Nonce     string
	CreatedAt int64
}

type pkceCookie struct {
	Verifier  string
	CreatedAt int64
}

// CookieStore writes and reads the signed, encrypted flow cookies.
type CookieStore struct {
	codec  *securecookie.SecureCookie
	secure bool
	now    func() time.Time
}

// NewCookieStore derives the cookie keys from config. Outside production a
// missing hash key falls back to a random per-process key.
func NewCookieStore(cfg env.Config) (*CookieStore, error) {
	hashSecret := cfg.CookieHashKey
	if hashSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("oauthstate: COOKIE_HASH_KEY is not configured")
		}
		hashSecret = string(securecookie.GenerateRandomKey(32))
	}
	blockSecret := cfg.CookieBlockKey
	if blockSecret == "" {
		blockSecret = "block:" + hashSecret
	}
	return newCookieStore([]byte(hashSecret), []byte(blockSecret), cfg.IsProduction()), nil
}

func newCookieStore(hashSecret, blockSecret []byte, secure bool) *CookieStore {
	hashKey := sha256.Sum256(hashSecret)
	blockKey := sha256.Sum256(blockSecret)
	codec := securecookie.New(hashKey[:], blockKey[:])
	codec.MaxAge(int(MaxAge.Seconds()))
	return &CookieStore{codec: codec, secure: secure, now: time.Now}
}

// Issue starts an attempt for provider on behalf of userID: a nonce always, a
// PKCE verifier when withPKCE is set. Both are written as cookies on the
// response.
func (s *CookieStore) Issue(c *fiber.Ctx, provider string, userID uint, withPKCE bool) (*Pending, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	p := &Pending{Provider: provider, UserID: userID, Nonce: nonce, CreatedAt: s.now()}

	encoded, err := s.codec.Encode(nonceCookiePrefix+provider, nonceCookie{
		Provider:  provider,
		UserID:    userID,
		Nonce:     nonce,
		CreatedAt: p.CreatedAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("oauthstate: encode nonce cookie: %w", err)
	}
	s.set(c, nonceCookiePrefix+provider, encoded)

	if withPKCE {
		verifier, _ := NewPKCE()
		p.CodeVerifier = verifier
		encoded, err := s.codec.Encode(pkceCookiePrefix+provider, pkceCookie{
			Verifier:  verifier,
			CreatedAt: p.CreatedAt.Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("oauthstate: encode pkce cookie: %w", err)
		}
		s.set(c, pkceCookiePrefix+provider, encoded)
	}
	return p, nil
}

// Load reads the attempt for provider from the request cookies.
func (s *CookieStore) Load(c *fiber.Ctx, provider string) (*Pending, error) {
	raw := c.Cookies(nonceCookiePrefix + provider)
	if raw == "" {
		return nil, ErrStateMissing
	}
	var nc nonceCookie
	if err := s.codec.Decode(nonceCookiePrefix+provider, raw, &nc); err != nil {
		return nil, ErrStateMissing
	}
	if nc.Provider != provider || nc.Nonce == "" {
		return nil, ErrStateMissing
	}
	created := time.Unix(nc.CreatedAt, 0)
	if s.now().Sub(created) > MaxAge {
		return nil, ErrStateExpired
	}

	p := &Pending{Provider: provider, UserID: nc.UserID, Nonce: nc.Nonce, CreatedAt: created}
	if raw := c.Cookies(pkceCookiePrefix + provider); raw != "" {
		var pc pkceCookie
		if err := s.codec.Decode(pkceCookiePrefix+provider, raw, &pc); err == nil && pc.CreatedAt == nc.CreatedAt {
			p.CodeVerifier = pc.Verifier
		}
	}
	return p, nil
}

// Clear expires both attempt cookies for provider.
func (s *CookieStore) Clear(c *fiber.Ctx, provider string) {
	s.expire(c, nonceCookiePrefix+provider)
	s.expire(c, pkceCookiePrefix+provider)
}

// Park stores a validated callback so it can be resumed after sign-in.
func (s *CookieStore) Park(c *fiber.Ctx, parked Parked) error {
	if parked.CreatedAt.IsZero() {
		parked.CreatedAt = s.now()
	}
	encoded, err := s.codec.Encode(parkedCookieName, parked)
	if err != nil {
		return fmt.Errorf("oauthstate: encode parked connect: %w", err)
	}
	s.set(c, parkedCookieName, encoded)
	return nil
}

// TakeParked returns the parked callback and clears its cookie.
func (s *CookieStore) TakeParked(c *fiber.Ctx) (*Parked, error) {
	raw := c.Cookies(parkedCookieName)
	s.expire(c, parkedCookieName)
	if raw == "" {
		return nil, ErrNothingParked
	}
	var parked Parked
	if err := s.codec.Decode(parkedCookieName, raw, &parked); err != nil {
		return nil, ErrNothingParked
	}
	if s.now().Sub(parked.CreatedAt) > MaxAge {
		return nil, ErrStateExpired
	}
	return &parked, nil
}

func (s *CookieStore) set(c *fiber.Ctx, name, value string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(MaxAge.Seconds()),
		Expires:  s.now().Add(MaxAge),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *CookieStore) expire(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

const squareVersion = "2024-10-17"

// Square answers token requests with an absolute expires_at instead of
// expires_in, so it does not go through x/oauth2.
type Square struct {
	adapterBase
	authorizeURL string
	tokenURL     string
	apiBase      string
}

var (
	_ Adapter   = (*Square)(nil)
	_ Refresher = (*Square)(nil)
)

func NewSquare(cfg env.Config) (*Square, error) {
	b := newBase(cfg, env.ProviderSquare)
	if err := b.require("CLIENT_ID"); err != nil {
		return nil, err
	}
	host := "https://connect.squareup.com"
	if b.settings.Environment == "sandbox" {
		host = "https://connect.squareupsandbox.com"
	}
	return &Square{
		adapterBase:  b,
		authorizeURL: urlOr(b.settings.AuthorizeURL, host+"/oauth2/authorize"),
		tokenURL:     urlOr(b.settings.TokenURL, host+"/oauth2/token"),
		apiBase:      urlOr(b.settings.APIBaseURL, host+"/v2"),
	}, nil
}

func (s *Square) Model() Model               { return ModelAuthCodePKCE }
func (s *Square) CallbackKeys() CallbackKeys { return codeCallback }

func (s *Square) AuthorizationURL(nonce, challenge string) (string, error) {
	u, err := url.Parse(s.authorizeURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", s.settings.ClientID)
	q.Set("scope", strings.Join(s.scopes("MERCHANT_PROFILE_READ", "ITEMS_READ", "ORDERS_READ", "INVENTORY_READ"), " "))
	q.Set("session", "false")
	q.Set("redirect_uri", s.redirectURI)
	q.Set("state", nonce)
	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type squareTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type squareTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
}

func (s *Square) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	ts, err := s.token(ctx, opExchange, squareTokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  s.redirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		return nil, err
	}
	return checkTokenSet(s.name, opExchange, ts)
}

func (s *Square) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ts, err := s.token(ctx, opRefresh, squareTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, err
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return checkTokenSet(s.name, opRefresh, ts)
}

func (s *Square) token(ctx context.Context, op string, body squareTokenRequest) (*TokenSet, error) {
	body.ClientID = s.settings.ClientID
	body.ClientSecret = s.settings.ClientSecret

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &UpstreamError{Provider: s.name, Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(raw))
	if err != nil {
		return nil, &UpstreamError{Provider: s.name, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Square-Version", squareVersion)

	var out squareTokenResponse
	if err := doJSON(s.client, s.name, op, req, &out); err != nil {
		return nil, err
	}

	ts := &TokenSet{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.ExpiresAt != "" {
		at, err := time.Parse(time.RFC3339, out.ExpiresAt)
		if err != nil {
			return nil, &UpstreamError{Provider: s.name, Op: op, Excerpt: "malformed expires_at", Err: err}
		}
		ts.ExpiresIn = at.Sub(s.now()).Round(time.Second)
		if ts.ExpiresIn <= 0 {
			ts.ExpiresIn = time.Second
		}
	}
	return ts, nil
}

type squareMerchantResponse struct {
	Merchant *struct {
		ID           string `json:"id"`
		BusinessName string `json:"business_name"`
		Status       string `json:"status"`
	} `json:"merchant"`
}

func (s *Square) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	var out squareMerchantResponse
	err := getJSON(ctx, s.client, s.name, opIdentify, s.apiBase+"/merchants/me", map[string]string{
		"Authorization":  bearer(accessToken),
		"Square-Version": squareVersion,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Merchant == nil {
		return nil, newIdentityError(s.name, "merchant")
	}
	return newIdentity(s.name, out.Merchant.ID, out.Merchant.BusinessName)
}

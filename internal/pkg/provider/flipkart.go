package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// Flipkart uses a confidential client: the token endpoint is called with GET
// and HTTP basic auth, and no PKCE is involved.
type Flipkart struct {
	adapterBase
	authorizeURL string
	tokenURL     string
	apiBase      string
}

var (
	_ Adapter   = (*Flipkart)(nil)
	_ Refresher = (*Flipkart)(nil)
)

func NewFlipkart(cfg env.Config) (*Flipkart, error) {
	b := newBase(cfg, env.ProviderFlipkart)
	if err := b.require("CLIENT_ID", "CLIENT_SECRET"); err != nil {
		return nil, err
	}
	return &Flipkart{
		adapterBase:  b,
		authorizeURL: urlOr(b.settings.AuthorizeURL, "https://api.flipkart.net/oauth-service/oauth/authorize"),
		tokenURL:     urlOr(b.settings.TokenURL, "https://api.flipkart.net/oauth-service/oauth/token"),
		apiBase:      urlOr(b.settings.APIBaseURL, "https://api.flipkart.net/sellers"),
	}, nil
}

func (f *Flipkart) Model() Model               { return ModelAuthCodeSecret }
func (f *Flipkart) CallbackKeys() CallbackKeys { return codeCallback }

func (f *Flipkart) AuthorizationURL(nonce, _ string) (string, error) {
	u, err := url.Parse(f.authorizeURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", f.settings.ClientID)
	q.Set("redirect_uri", f.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(f.scopes("Seller_Api"), " "))
	q.Set("state", nonce)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type flipkartTokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
}

func (f *Flipkart) Exchange(ctx context.Context, code, _ string) (*TokenSet, error) {
	q := url.Values{}
	q.Set("grant_type", "authorization_code")
	q.Set("code", code)
	q.Set("redirect_uri", f.redirectURI)
	ts, err := f.token(ctx, opExchange, q)
	if err != nil {
		return nil, err
	}
	return checkTokenSet(f.name, opExchange, ts)
}

func (f *Flipkart) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	q := url.Values{}
	q.Set("grant_type", "refresh_token")
	q.Set("refresh_token", refreshToken)
	ts, err := f.token(ctx, opRefresh, q)
	if err != nil {
		return nil, err
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return checkTokenSet(f.name, opRefresh, ts)
}

func (f *Flipkart) token(ctx context.Context, op string, q url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &UpstreamError{Provider: f.name, Op: op, Err: err}
	}
	req.SetBasicAuth(f.settings.ClientID, f.settings.ClientSecret)

	var out flipkartTokenResponse
	if err := doJSON(f.client, f.name, op, req, &out); err != nil {
		return nil, err
	}
	ts := &TokenSet{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.ExpiresIn != "" {
		secs, err := out.ExpiresIn.Int64()
		if err != nil || secs < 0 {
			return nil, &UpstreamError{Provider: f.name, Op: op, Excerpt: "malformed expires_in", Err: err}
		}
		ts.ExpiresIn = time.Duration(secs) * time.Second
	}
	return ts, nil
}

type flipkartProfileResponse struct {
	SellerID    string `json:"sellerId"`
	DisplayName string `json:"displayName"`
}

func (f *Flipkart) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	var out flipkartProfileResponse
	err := getJSON(ctx, f.client, f.name, opIdentify, f.apiBase+"/v3/profile",
		map[string]string{"Authorization": bearer(accessToken)}, &out)
	if err != nil {
		return nil, err
	}
	return newIdentity(f.name, out.SellerID, out.DisplayName)
}

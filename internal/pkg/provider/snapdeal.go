package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// Snapdeal returns the seller authorization token directly on the redirect.
// The token does not expire and there is no refresh grant.
type Snapdeal struct {
	adapterBase
	authorizeURL string
	apiBase      string
}

var _ Adapter = (*Snapdeal)(nil)

func NewSnapdeal(cfg env.Config) (*Snapdeal, error) {
	b := newBase(cfg, env.ProviderSnapdeal)
	if err := b.require("CLIENT_ID", "CLIENT_SECRET"); err != nil {
		return nil, err
	}
	return &Snapdeal{
		adapterBase:  b,
		authorizeURL: urlOr(b.settings.AuthorizeURL, "https://apigateway.snapdeal.com/seller-api/authorize"),
		apiBase:      urlOr(b.settings.APIBaseURL, "https://apigateway.snapdeal.com/seller-api"),
	}, nil
}

func (s *Snapdeal) Model() Model { return ModelRedirectToken }

func (s *Snapdeal) CallbackKeys() CallbackKeys {
	return CallbackKeys{Credential: "token", State: "state"}
}

func (s *Snapdeal) AuthorizationURL(nonce, _ string) (string, error) {
	u, err := url.Parse(s.authorizeURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("clientId", s.settings.ClientID)
	q.Set("redirectUri", s.redirectURI)
	q.Set("state", nonce)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange passes the redirect token through unchanged.
func (s *Snapdeal) Exchange(_ context.Context, token, _ string) (*TokenSet, error) {
	return checkTokenSet(s.name, opExchange, &TokenSet{AccessToken: strings.TrimSpace(token)})
}

type snapdealSellerResponse struct {
	SellerCode  string `json:"sellerCode"`
	DisplayName string `json:"displayName"`
}

func (s *Snapdeal) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	var out snapdealSellerResponse
	err := getJSON(ctx, s.client, s.name, opIdentify, s.apiBase+"/sellers/profile", map[string]string{
		"X-Auth-Token":         s.settings.ClientSecret,
		"clientId":             s.settings.ClientID,
		"X-Seller-AuthZ-Token": accessToken,
	}, &out)
	if err != nil {
		return nil, err
	}
	return newIdentity(s.name, out.SellerCode, out.DisplayName)
}

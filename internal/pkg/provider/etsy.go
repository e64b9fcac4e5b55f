package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// Etsy is a public PKCE client: the token endpoint only receives the
// client id, and every API call repeats it in x-api-key.
type Etsy struct {
	adapterBase
	grant   *oauth2Grant
	apiBase string
}

var (
	_ Adapter   = (*Etsy)(nil)
	_ Refresher = (*Etsy)(nil)
)

func NewEtsy(cfg env.Config) (*Etsy, error) {
	b := newBase(cfg, env.ProviderEtsy)
	if err := b.require("CLIENT_ID"); err != nil {
		return nil, err
	}
	return &Etsy{
		adapterBase: b,
		apiBase:     urlOr(b.settings.APIBaseURL, "https://api.etsy.com/v3/application"),
		grant: &oauth2Grant{
			provider: b.name,
			client:   b.client,
			now:      b.now,
			conf: &oauth2.Config{
				ClientID:    b.settings.ClientID,
				RedirectURL: b.redirectURI,
				Scopes:      b.scopes("shops_r", "listings_r", "transactions_r"),
				Endpoint: oauth2.Endpoint{
					AuthURL:   urlOr(b.settings.AuthorizeURL, "https://www.etsy.com/oauth/connect"),
					TokenURL:  urlOr(b.settings.TokenURL, "https://api.etsy.com/v3/public/oauth/token"),
					AuthStyle: oauth2.AuthStyleInParams,
				},
			},
		},
	}, nil
}

func (e *Etsy) Model() Model               { return ModelAuthCodePKCE }
func (e *Etsy) CallbackKeys() CallbackKeys { return codeCallback }

func (e *Etsy) AuthorizationURL(nonce, challenge string) (string, error) {
	if challenge == "" {
		return "", fmt.Errorf("provider: %s requires a PKCE challenge", e.name)
	}
	return e.grant.authCodeURL(nonce, challenge), nil
}

func (e *Etsy) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	return e.grant.exchange(ctx, code, verifier)
}

func (e *Etsy) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return e.grant.refresh(ctx, refreshToken)
}

type etsyMeResponse struct {
	UserID json.Number `json:"user_id"`
	ShopID json.Number `json:"shop_id"`
}

type etsyShopResponse struct {
	ShopID   json.Number `json:"shop_id"`
	ShopName string      `json:"shop_name"`
}

// Identify resolves the shop behind the token. A user without a shop cannot
// be connected.
func (e *Etsy) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	headers := map[string]string{
		"Authorization": bearer(accessToken),
		"x-api-key":     e.settings.ClientID,
	}

	var me etsyMeResponse
	if err := getJSON(ctx, e.client, e.name, opIdentify, e.apiBase+"/users/me", headers, &me); err != nil {
		return nil, err
	}
	if me.ShopID == "" {
		return nil, newIdentityError(e.name, "shop_id")
	}

	var shop etsyShopResponse
	if err := getJSON(ctx, e.client, e.name, opIdentify, e.apiBase+"/shops/"+me.ShopID.String(), headers, &shop); err != nil {
		return nil, err
	}
	if shop.ShopID.String() != me.ShopID.String() {
		return nil, newIdentityError(e.name, "matching shop_id")
	}
	return newIdentity(e.name, shop.ShopID.String(), shop.ShopName)
}

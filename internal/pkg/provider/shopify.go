package provider

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

const shopifyAPIVersion = "2024-10"

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// Shopify connects the single shop named by SHOPIFY_SHOP_DOMAIN. The shop is
// never taken from the callback, so a forged shop parameter cannot redirect
// the code exchange.
type Shopify struct {
	adapterBase
	grant   *oauth2Grant
	apiBase string
}

var (
	_ Adapter   = (*Shopify)(nil)
	_ Refresher = (*Shopify)(nil)
)

func NewShopify(cfg env.Config) (*Shopify, error) {
	b := newBase(cfg, env.ProviderShopify)
	if err := b.require("CLIENT_ID", "CLIENT_SECRET", "SHOP_DOMAIN"); err != nil {
		return nil, err
	}
	shop := strings.ToLower(b.settings.ShopDomain)
	if !shopDomainPattern.MatchString(shop) {
		return nil, &ConfigMissingError{Provider: b.name, Missing: []string{"SHOPIFY_SHOP_DOMAIN"}}
	}
	origin := "https://" + shop

	s := &Shopify{
		adapterBase: b,
		apiBase:     urlOr(b.settings.APIBaseURL, origin+"/admin/api/"+shopifyAPIVersion),
	}
	s.grant = &oauth2Grant{
		provider: b.name,
		client:   b.client,
		now:      b.now,
		conf: &oauth2.Config{
			ClientID:     b.settings.ClientID,
			ClientSecret: b.settings.ClientSecret,
			RedirectURL:  b.redirectURI,
			Scopes:       b.scopes("read_products", "read_orders", "read_inventory"),
			Endpoint: oauth2.Endpoint{
				AuthURL:   urlOr(b.settings.AuthorizeURL, origin+"/admin/oauth/authorize"),
				TokenURL:  urlOr(b.settings.TokenURL, origin+"/admin/oauth/access_token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	return s, nil
}

func (s *Shopify) Model() Model               { return ModelAuthCodePKCE }
func (s *Shopify) CallbackKeys() CallbackKeys { return codeCallback }

func (s *Shopify) AuthorizationURL(nonce, challenge string) (string, error) {
	return s.grant.authCodeURL(nonce, challenge), nil
}

func (s *Shopify) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	return s.grant.exchange(ctx, code, verifier)
}

func (s *Shopify) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return s.grant.refresh(ctx, refreshToken)
}

type shopifyShopResponse struct {
	Shop *struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"shop"`
}

func (s *Shopify) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	var out shopifyShopResponse
	err := getJSON(ctx, s.client, s.name, opIdentify, s.apiBase+"/shop.json",
		map[string]string{"X-Shopify-Access-Token": accessToken}, &out)
	if err != nil {
		return nil, err
	}
	if out.Shop == nil {
		return nil, newIdentityError(s.name, "shop")
	}
	return newIdentity(s.name, out.Shop.ID.String(), out.Shop.Name)
}

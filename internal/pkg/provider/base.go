package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// adapterBase carries what every adapter needs: its settings, the redirect
// URI derived from the server-side base URL and its own HTTP client.
type adapterBase struct {
	name        string
	settings    env.ProviderSettings
	redirectURI string
	client      *http.Client
	now         func() time.Time
}

func newBase(cfg env.Config, name string) adapterBase {
	return adapterBase{
		name:        name,
		settings:    cfg.Provider(name),
		redirectURI: cfg.RedirectURI(name),
		client:      NewHTTPClient(),
		now:         time.Now,
	}
}

func (b *adapterBase) Name() string { return b.name }

// require fails with the full env variable names of every empty setting.
func (b *adapterBase) require(keys ...string) error {
	values := map[string]string{
		"CLIENT_ID":     b.settings.ClientID,
		"CLIENT_SECRET": b.settings.ClientSecret,
		"APP_TOKEN":     b.settings.AppToken,
		"SHOP_DOMAIN":   b.settings.ShopDomain,
		"ACCOUNT_ID":    b.settings.AccountID,
	}
	var missing []string
	for _, k := range keys {
		if values[k] == "" {
			missing = append(missing, strings.ToUpper(b.name)+"_"+k)
		}
	}
	if len(missing) > 0 {
		return &ConfigMissingError{Provider: b.name, Missing: missing}
	}
	return nil
}

func (b *adapterBase) scopes(def ...string) []string {
	if len(b.settings.Scopes) > 0 {
		return b.settings.Scopes
	}
	return def
}

func urlOr(override, def string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return def
}

// oauth2Grant drives the standard authorization-code and refresh grants
// through golang.org/x/oauth2 with the adapter's own HTTP client.
type oauth2Grant struct {
	provider string
	conf     *oauth2.Config
	client   *http.Client
	now      func() time.Time
}

func (g *oauth2Grant) authCodeURL(nonce, challenge string, extra ...oauth2.AuthCodeOption) string {
	opts := append([]oauth2.AuthCodeOption(nil), extra...)
	if challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return g.conf.AuthCodeURL(nonce, opts...)
}

func (g *oauth2Grant) exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := g.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fromOAuth2Error(g.provider, opExchange, err)
	}
	return checkTokenSet(g.provider, opExchange, g.tokenSet(tok))
}

func (g *oauth2Grant) refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fromOAuth2Error(g.provider, opRefresh, err)
	}
	return checkTokenSet(g.provider, opRefresh, g.tokenSet(tok))
}

func (g *oauth2Grant) tokenSet(tok *oauth2.Token) *TokenSet {
	ts := &TokenSet{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		ts.ExpiresIn = tok.Expiry.Sub(g.now()).Round(time.Second)
		if ts.ExpiresIn <= 0 {
			ts.ExpiresIn = time.Second
		}
	}
	return ts
}

func bearer(token string) string { return "Bearer " + token }

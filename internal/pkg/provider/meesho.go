package provider

import (
	"context"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

// Meesho authenticates with an app-level token issued to the supplier out of
// band. There is no consent redirect; connecting only verifies the token and
// records who it belongs to.
type Meesho struct {
	adapterBase
	apiBase string
}

var _ Adapter = (*Meesho)(nil)

func NewMeesho(cfg env.Config) (*Meesho, error) {
	b := newBase(cfg, env.ProviderMeesho)
	if err := b.require("APP_TOKEN"); err != nil {
		return nil, err
	}
	return &Meesho{
		adapterBase: b,
		apiBase:     urlOr(b.settings.APIBaseURL, "https://supplier-api.meesho.com/api/v1"),
	}, nil
}

func (m *Meesho) Model() Model               { return ModelStaticBearer }
func (m *Meesho) CallbackKeys() CallbackKeys { return CallbackKeys{} }

func (m *Meesho) AuthorizationURL(string, string) (string, error) {
	return "", ErrNoConsentStep
}

// Exchange ignores the credential and returns the configured app token.
func (m *Meesho) Exchange(context.Context, string, string) (*TokenSet, error) {
	return checkTokenSet(m.name, opExchange, &TokenSet{AccessToken: m.settings.AppToken})
}

type meeshoSupplierResponse struct {
	Data *struct {
		SupplierID   string `json:"supplier_id"`
		SupplierName string `json:"supplier_name"`
	} `json:"data"`
}

func (m *Meesho) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	headers := map[string]string{"Authorization": bearer(accessToken)}
	if m.settings.AccountID != "" {
		headers["X-Supplier-Id"] = m.settings.AccountID
	}
	var out meeshoSupplierResponse
	if err := getJSON(ctx, m.client, m.name, opIdentify, m.apiBase+"/supplier/profile", headers, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, newIdentityError(m.name, "data")
	}
	return newIdentity(m.name, out.Data.SupplierID, out.Data.SupplierName)
}

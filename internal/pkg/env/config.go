package env

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuelReschke/MarketLink/internal/pkg/constants"
)

// Provider names understood by the config loader. Adding a marketplace means
// adding it here and registering an adapter for it.
const (
	ProviderShopify  = "shopify"
	ProviderSquare   = "square"
	ProviderEtsy     = "etsy"
	ProviderFlipkart = "flipkart"
	ProviderSnapdeal = "snapdeal"
	ProviderMeesho   = "meesho"
)

// KnownProviders lists every provider in registration order.
var KnownProviders = []string{
	ProviderShopify,
	ProviderSquare,
	ProviderEtsy,
	ProviderFlipkart,
	ProviderSnapdeal,
	ProviderMeesho,
}

// ProviderSettings holds the credentials and endpoint overrides for one
// marketplace. Empty URL fields mean "use the adapter default".
type ProviderSettings struct {
	ClientID     string
	ClientSecret string
	AppToken     string
	ShopDomain   string
	AccountID    string
	Environment  string
	Scopes       []string

	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type CacheConfig struct {
	Host     string
	Port     string
	Password string
}

// Config is built once at startup and passed explicitly to every component.
// Nothing below the main package reads the environment on its own.
type Config struct {
	AppEnv string
	Host   string
	Port   string

	// PublicBaseURL is the server-side origin used to derive redirect URIs.
	// It is never taken from request headers.
	PublicBaseURL string

	Database DatabaseConfig
	Cache    CacheConfig

	TokenEncryptionKey string
	CookieHashKey      string
	CookieBlockKey     string
	InternalAPISecret  string
	LegacySyncEnabled  bool

	LoginPath       string
	ConnectPagePath string
	ErrorPagePath   string

	Providers map[string]ProviderSettings

	// publicDomainSet records whether PUBLIC_DOMAIN was given, before the
	// localhost fallback fills PublicBaseURL.
	publicDomainSet bool
}

// IsDev reports whether the config was loaded for local development.
func (c Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// IsProduction is true for every environment that is not dev or test.
func (c Config) IsProduction() bool {
	return c.AppEnv != "dev" && c.AppEnv != "test"
}

// Provider returns a copy of the settings for name.
func (c Config) Provider(name string) ProviderSettings {
	p := c.Providers[name]
	p.Scopes = append([]string(nil), p.Scopes...)
	return p
}

// RedirectURI is the callback URL registered with the provider.
func (c Config) RedirectURI(provider string) string {
	return strings.TrimRight(c.PublicBaseURL, "/") + constants.CallbackPath(provider)
}

// Load builds the Config from the loaded .env map and the process environment.
func Load() (Config, error) {
	cfg := Config{
		AppEnv: GetEnv("APP_ENV", "prod"),
		Host:   GetEnv("APP_HOST", "localhost"),
		Port:   GetEnv("APP_PORT", "4000"),

		PublicBaseURL: strings.TrimRight(strings.TrimSpace(GetEnv("PUBLIC_DOMAIN", "")), "/"),

		Database: DatabaseConfig{
			User:     GetEnv("DB_USER", ""),
			Password: GetEnv("DB_PASSWORD", ""),
			Host:     GetEnv("DB_HOST", "127.0.0.1"),
			Port:     GetEnv("DB_PORT", "3306"),
			Name:     GetEnv("DB_NAME", ""),
		},
		Cache: CacheConfig{
			Host:     GetEnv("CACHE_HOST", "localhost"),
			Port:     GetEnv("CACHE_PORT", "6379"),
			Password: GetEnv("CACHE_PASSWORD", ""),
		},

		TokenEncryptionKey: strings.TrimSpace(GetEnv("TOKEN_ENCRYPTION_KEY", "")),
		CookieHashKey:      strings.TrimSpace(GetEnv("COOKIE_HASH_KEY", "")),
		CookieBlockKey:     strings.TrimSpace(GetEnv("COOKIE_BLOCK_KEY", "")),
		InternalAPISecret:  strings.TrimSpace(GetEnv("INTERNAL_API_SECRET", "")),
		LegacySyncEnabled:  getBool("ENABLE_LEGACY_SYNC", false),

		LoginPath:       GetEnv("LOGIN_PATH", "/login"),
		ConnectPagePath: GetEnv("CONNECT_PAGE_PATH", "/connect"),
		ErrorPagePath:   GetEnv("ERROR_PAGE_PATH", "/"),

		Providers: make(map[string]ProviderSettings, len(KnownProviders)),
	}

	cfg.publicDomainSet = cfg.PublicBaseURL != ""
	if !cfg.publicDomainSet {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}

	for _, name := range KnownProviders {
		cfg.Providers[name] = loadProvider(name)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	if c.TokenEncryptionKey == "" {
		missing = append(missing, "TOKEN_ENCRYPTION_KEY")
	}
	if !c.publicDomainSet {
		missing = append(missing, "PUBLIC_DOMAIN")
	}
	if c.CookieHashKey == "" {
		missing = append(missing, "COOKIE_HASH_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration for %s: %s", c.AppEnv, strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return errors.New("PUBLIC_DOMAIN must use https outside of dev")
	}
	return nil
}

func loadProvider(name string) ProviderSettings {
	prefix := strings.ToUpper(name) + "_"
	get := func(key string) string {
		return strings.TrimSpace(GetEnv(prefix+key, ""))
	}
	return ProviderSettings{
		ClientID:     get("CLIENT_ID"),
		ClientSecret: get("CLIENT_SECRET"),
		AppToken:     get("APP_TOKEN"),
		ShopDomain:   get("SHOP_DOMAIN"),
		AccountID:    get("ACCOUNT_ID"),
		Environment:  get("ENVIRONMENT"),
		Scopes:       splitList(get("SCOPES")),
		AuthorizeURL: get("AUTHORIZE_URL"),
		TokenURL:     get("TOKEN_URL"),
		APIBaseURL:   get("API_BASE_URL"),
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

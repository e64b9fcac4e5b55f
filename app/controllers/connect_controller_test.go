package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/MarketLink/app/models"
	"github.com/ManuelReschke/MarketLink/app/repository"
	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
	"github.com/ManuelReschke/MarketLink/internal/pkg/middleware"
	"github.com/ManuelReschke/MarketLink/internal/pkg/oauthstate"
	"github.com/ManuelReschke/MarketLink/internal/pkg/provider"
	"github.com/ManuelReschke/MarketLink/internal/pkg/tokens"
	"github.com/ManuelReschke/MarketLink/internal/pkg/usercontext"
	"github.com/ManuelReschke/MarketLink/internal/pkg/vault"
)

const testUserHeader = "X-Test-User"

type memoryLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (l *memoryLedger) Consume(_ context.Context, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[nonce] {
		return false, nil
	}
	l.seen[nonce] = true
	return true, nil
}

type memoryOutcomes struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *memoryOutcomes) AddConnectOutcome(_ context.Context, provider, outcome string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[provider+":"+outcome]++
	return nil
}

// fakeEtsy plays the provider side of the PKCE flow.
type fakeEtsy struct {
	mu        sync.Mutex
	challenge string
	shopName  string
	exchanges int
}

func (f *fakeEtsy) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			require.NoError(t, r.ParseForm())
			sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
			f.mu.Lock()
			f.exchanges++
			expected := f.challenge
			f.mu.Unlock()
			if base64.RawURLEncoding.EncodeToString(sum[:]) != expected || r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"123.access","refresh_token":"123.refresh","token_type":"Bearer","expires_in":3600}`)
		case "/api/users/me":
			_, _ = io.WriteString(w, `{"user_id":123,"shop_id":456}`)
		case "/api/shops/456":
			f.mu.Lock()
			name := f.shopName
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"shop_id": 456, "shop_name": name})
		default:
			http.NotFound(w, r)
		}
	})
}

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	etsy     *fakeEtsy
	outcomes *memoryOutcomes
	repos    *repository.Repositories
	cfg      env.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	etsy := &fakeEtsy{shopName: "Knit Corner"}
	srv := httptest.NewServer(etsy.handler(t))
	t.Cleanup(srv.Close)

	meesho := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"supplier_id":"SUP-1","supplier_name":"Jaipur Prints"}}`)
	}))
	t.Cleanup(meesho.Close)

	cfg := env.Config{
		AppEnv:          "test",
		PublicBaseURL:   "https://app.example.com",
		LoginPath:       "/login",
		ConnectPagePath: "/connect",
		ErrorPagePath:   "/",
		Providers: map[string]env.ProviderSettings{
			env.ProviderEtsy: {
				ClientID:     "etsy-client",
				AuthorizeURL: srv.URL + "/authorize",
				TokenURL:     srv.URL + "/token",
				APIBaseURL:   srv.URL + "/api",
			},
			env.ProviderMeesho: {AppToken: "meesho-app-token", APIBaseURL: meesho.URL},
		},
	}

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Connection{}))

	v, err := vault.New("controller-test-secret-0123456789")
	require.NoError(t, err)
	repos := repository.NewRepositories(db, v)

	states, err := oauthstate.NewCookieStore(cfg)
	require.NoError(t, err)

	registry := provider.FromConfig(cfg)
	outcomes := &memoryOutcomes{counts: map[string]int{}}

	cc := NewConnectController(ConnectDeps{
		Config:      cfg,
		Providers:   registry,
		States:      states,
		Ledger:      &memoryLedger{seen: map[string]bool{}},
		Connections: repos.Connection,
		Outcomes:    outcomes,
	})
	ic := NewInternalTokenController(tokens.NewManager(repos.Credentials, registry), registry)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if raw := c.Get(testUserHeader); raw != "" {
			id, _ := strconv.Atoi(raw)
			usercontext.Set(c, usercontext.UserContext{UserID: uint(id), IsLoggedIn: true})
		}
		return c.Next()
	})
	app.Get("/connect/resume", middleware.RequireAuth(cfg.LoginPath), cc.HandleResume)
	app.Get("/connect/:provider", middleware.RequireAuth(cfg.LoginPath), cc.HandleInitiate)
	app.Get("/connect/:provider/callback", cc.HandleCallback)
	app.Post("/connect/:provider/disconnect", middleware.RequireAuth(cfg.LoginPath), cc.HandleDisconnect)
	app.Get("/api/v1/connections", middleware.RequireAPISessionAuth, cc.HandleListConnections)
	app.Get("/internal/v1/connections/:user_id/:provider/token", middleware.InternalSecretAuth("internal-secret"), ic.HandleGetToken)

	return &testEnv{app: app, db: db, etsy: etsy, outcomes: outcomes, repos: repos, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, target, user, cookies string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) countConnections(t *testing.T) int64 {
	var n int64
	require.NoError(t, e.db.Model(&models.Connection{}).Count(&n).Error)
	return n
}

// cookieHeader turns live Set-Cookie lines into a Cookie request header.
func cookieHeader(resp *http.Response) string {
	var parts []string
	for _, ck := range resp.Cookies() {
		if ck.Value == "" {
			continue
		}
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

func clearedCookies(resp *http.Response, prefix string) int {
	n := 0
	for _, ck := range resp.Cookies() {
		if strings.HasPrefix(ck.Name, prefix) && ck.Value == "" {
			n++
		}
	}
	return n
}

func oauthCookies(resp *http.Response) []*http.Cookie {
	var out []*http.Cookie
	for _, ck := range resp.Cookies() {
		if strings.HasPrefix(ck.Name, "ml_oauth_") {
			out = append(out, ck)
		}
	}
	return out
}

// initiate runs the first leg and returns the state sent to the provider and
// the cookies to replay on the callback.
func (e *testEnv) initiate(t *testing.T, user string) (string, string) {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/connect/etsy", user, "")
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	challenge := loc.Query().Get("code_challenge")
	require.NotEmpty(t, state)
	require.NotEmpty(t, challenge)

	e.etsy.mu.Lock()
	e.etsy.challenge = challenge
	e.etsy.mu.Unlock()
	return state, cookieHeader(resp)
}

func TestPKCEConnectEndToEnd(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/connect/etsy", "7", "")
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc.Path, "/authorize"))
	assert.Equal(t, "S256", loc.Query().Get("code_challenge_method"))
	assert.Equal(t, "https://app.example.com/connect/etsy/callback", loc.Query().Get("redirect_uri"))

	cookies := oauthCookies(resp)
	require.Len(t, cookies, 2)
	for _, ck := range cookies {
		assert.True(t, ck.HttpOnly)
		assert.Equal(t, 600, ck.MaxAge)
		assert.Equal(t, "/", ck.Path)
		assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	}

	state := loc.Query().Get("state")
	e.etsy.challenge = loc.Query().Get("code_challenge")

	resp = e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state="+url.QueryEscape(state), "7", cookieHeader(resp))
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/connect", resp.Header.Get("Location"))
	assert.Equal(t, 2, clearedCookies(resp, "ml_oauth_"))

	conn, err := e.repos.Connection.Get(context.Background(), 7, "etsy")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, conn.Status)
	assert.Equal(t, "456", conn.ExternalID)
	assert.Equal(t, "Knit Corner", conn.ExternalName)

	creds, err := e.repos.Credentials.LoadCredentials(context.Background(), 7, "etsy")
	require.NoError(t, err)
	assert.Equal(t, "123.access", creds.AccessToken)
	assert.Equal(t, "123.refresh", creds.RefreshToken)
	assert.NotNil(t, creds.ExpiresAt)
	assert.Equal(t, 1, e.outcomes.counts["etsy:connected"])
}

func TestCallbackWithForeignStateIsRejected(t *testing.T) {
	e := newTestEnv(t)
	_, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state=not-the-nonce", "7", cookies)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
	assert.GreaterOrEqual(t, clearedCookies(resp, "ml_oauth_nonce_"), 1)
	assert.Zero(t, e.countConnections(t))
	assert.Zero(t, e.etsy.exchanges)
}

func TestCallbackWithoutCookieIsRejected(t *testing.T) {
	e := newTestEnv(t)
	state, _ := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state="+url.QueryEscape(state), "7", "")
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
	assert.Zero(t, e.countConnections(t))
}

func TestReplayedCallbackIsRejected(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")
	target := "/connect/etsy/callback?code=good-code&state=" + url.QueryEscape(state)

	resp := e.do(t, http.MethodGet, target, "7", cookies)
	require.Equal(t, "/connect", resp.Header.Get("Location"))

	resp = e.do(t, http.MethodGet, target, "7", cookies)
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
	assert.Equal(t, 1, e.etsy.exchanges)
}

func TestCallbackMissingParams(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?state="+url.QueryEscape(state), "7", cookies)
	assert.Equal(t, "/?error=missing_params", resp.Header.Get("Location"))
	assert.Equal(t, 2, clearedCookies(resp, "ml_oauth_"))
}

func TestProviderReportedError(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?error=access_denied&state="+url.QueryEscape(state), "7", cookies)
	assert.Equal(t, "/?error=oauth_failed", resp.Header.Get("Location"))
	assert.Equal(t, 1, e.outcomes.counts["etsy:oauth_failed"])
}

func TestExchangeFailureIsOpaque(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=bad-code&state="+url.QueryEscape(state), "7", cookies)
	assert.Equal(t, "/?error=oauth_failed", resp.Header.Get("Location"))
	assert.Zero(t, e.countConnections(t))
}

func TestIncompleteIdentity(t *testing.T) {
	e := newTestEnv(t)
	e.etsy.shopName = ""
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state="+url.QueryEscape(state), "7", cookies)
	assert.Equal(t, "/?error=missing_user_info", resp.Header.Get("Location"))
	assert.Zero(t, e.countConnections(t))
}

func TestUnconfiguredProvider(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/connect/shopify", "7", "")
	assert.Equal(t, "/?error=server_misconfiguration", resp.Header.Get("Location"))

	resp = e.do(t, http.MethodGet, "/connect/amazon", "7", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestInitiateRequiresLogin(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/connect/etsy", "", "")
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fconnect%2Fetsy", resp.Header.Get("Location"))
	assert.Empty(t, oauthCookies(resp))
}

func TestExpiredSessionParksAndResumes(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state="+url.QueryEscape(state), "", cookies)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fconnect%2Fresume", resp.Header.Get("Location"))
	assert.Zero(t, e.countConnections(t))

	parked := cookieHeader(resp)
	require.Contains(t, parked, "ml_pending_connect=")
	assert.NotContains(t, parked, "good-code")

	resp = e.do(t, http.MethodGet, "/connect/resume", "7", parked)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/connect", resp.Header.Get("Location"))

	conn, err := e.repos.Connection.Get(context.Background(), 7, "etsy")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, conn.Status)

	resp = e.do(t, http.MethodGet, "/connect/resume", "7", "")
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
}

func TestCallbackForAnotherUserIsRejected(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state="+url.QueryEscape(state), "8", cookies)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
	assert.Equal(t, 2, clearedCookies(resp, "ml_oauth_"))
	assert.Zero(t, e.countConnections(t))
	assert.Zero(t, e.etsy.exchanges)
}

func TestParkedConnectResumedByAnotherUserIsRejected(t *testing.T) {
	e := newTestEnv(t)
	state, cookies := e.initiate(t, "7")

	resp := e.do(t, http.MethodGet, "/connect/etsy/callback?code=good-code&state="+url.QueryEscape(state), "", cookies)
	require.Equal(t, "/login?next=%2Fconnect%2Fresume", resp.Header.Get("Location"))
	parked := cookieHeader(resp)

	resp = e.do(t, http.MethodGet, "/connect/resume", "8", parked)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
	assert.Equal(t, 1, clearedCookies(resp, "ml_pending_connect"))
	assert.Zero(t, e.countConnections(t))
	assert.Zero(t, e.etsy.exchanges)

	// The parked cookie is gone, so the rightful user cannot replay it either.
	resp = e.do(t, http.MethodGet, "/connect/resume", "7", "")
	assert.Equal(t, "/?error=invalid_state", resp.Header.Get("Location"))
}

func TestStaticBearerConnectsWithoutRedirect(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/connect/meesho", "9", "")
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/connect", resp.Header.Get("Location"))
	assert.Empty(t, oauthCookies(resp))

	conn, err := e.repos.Connection.Get(context.Background(), 9, "meesho")
	require.NoError(t, err)
	assert.Equal(t, "Jaipur Prints", conn.ExternalName)
}

func TestDisconnectAndList(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/connect/meesho", "9", "")

	resp := e.do(t, http.MethodGet, "/api/v1/connections", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/connections", "9", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"external_name":"Jaipur Prints"`)
	assert.NotContains(t, string(body), "meesho-app-token")
	assert.NotContains(t, string(body), "v1.")

	resp = e.do(t, http.MethodPost, "/connect/meesho/disconnect", "9", "")
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	conn, err := e.repos.Connection.Get(context.Background(), 9, "meesho")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionDisconnected, conn.Status)
	assert.Equal(t, int64(1), e.countConnections(t))
}

func TestInternalTokenEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/connect/meesho", "9", "")

	get := func(path, secret string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if secret != "" {
			req.Header.Set(middleware.InternalSecretHeader, secret)
		}
		resp, err := e.app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	resp := get("/internal/v1/connections/9/meesho/token", "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	resp = get("/internal/v1/connections/9/meesho/token", "wrong")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = get("/internal/v1/connections/9/meesho/token", "internal-secret")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "meesho-app-token", body["access_token"])

	resp = get("/internal/v1/connections/9/etsy/token", "internal-secret")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp = get("/internal/v1/connections/abc/etsy/token", "internal-secret")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestErrorCodeMapping(t *testing.T) {
	assert.Equal(t, CodeMissingParams, errorCode(ErrMissingParams))
	assert.Equal(t, CodeInvalidState, errorCode(oauthstate.ErrStateExpired))
	assert.Equal(t, CodeServerMisconfiguration, errorCode(&provider.ConfigMissingError{Provider: "x", Missing: []string{"X_CLIENT_ID"}}))
	assert.Equal(t, CodeMissingUserInfo, errorCode(provider.ErrIncompleteIdentity))
	assert.Equal(t, CodeOAuthFailed, errorCode(&provider.UpstreamError{Provider: "x", Op: "exchange", StatusCode: 500}))
	assert.Equal(t, "/err?x=1&error=oauth_failed", errorRedirect("/err?x=1", CodeOAuthFailed))

	status, _ := tokenErrorStatus(tokens.ErrRefreshFailed)
	assert.Equal(t, fiber.StatusBadGateway, status)
	status, _ = tokenErrorStatus(tokens.ErrInvalidConnectionState)
	assert.Equal(t, fiber.StatusInternalServerError, status)
}

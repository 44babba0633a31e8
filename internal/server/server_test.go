package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"opsagent/internal/auth"
	"opsagent/internal/gateway"
	"opsagent/internal/llm"
	"opsagent/internal/processing"
	"opsagent/internal/sheets"
	"opsagent/internal/tenants"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeTenants struct {
	tenant     *tenants.Tenant
	registered []string
}

func (f *fakeTenants) ForPhone(ctx context.Context, phone string) (*tenants.Tenant, error) {
	if f.tenant == nil {
		return nil, tenants.ErrNoTenant
	}
	return f.tenant, nil
}

func (f *fakeTenants) ForEmail(ctx context.Context, email string) (*tenants.Tenant, error) {
	return f.ForPhone(ctx, "")
}

func (f *fakeTenants) Register(ctx context.Context, email string, tok *oauth2.Token) (*tenants.Tenant, error) {
	f.registered = append(f.registered, email)
	return f.tenant, nil
}

type fakeGateway struct {
	media    []byte
	mediaErr error
}

func (g *fakeGateway) ValidateRequest(u string, params map[string]string, signature string) bool {
	return signature == "good"
}

func (g *fakeGateway) DownloadMedia(ctx context.Context, u string) ([]byte, string, error) {
	return g.media, "image/jpeg", g.mediaErr
}

type fakeAnalyzer struct {
	intent llm.Intent
	err    error
	got    []llm.Message
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, msg llm.Message) (llm.Intent, error) {
	a.got = append(a.got, msg)
	return a.intent, a.err
}

type fakeLinker struct{ linked map[string]string }

func (l *fakeLinker) LinkPhone(ctx context.Context, email, phone string) error {
	l.linked[email] = phone
	return nil
}

type fakeOAuth struct{}

func (fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (fakeOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code != "good-code" {
		return nil, errors.New("invalid_grant")
	}
	return &oauth2.Token{AccessToken: "a", RefreshToken: "r"}, nil
}

func (fakeOAuth) FetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	return "owner@example.com", nil
}

type fixture struct {
	sheet    *sheets.Memory
	tenants  *fakeTenants
	gateway  *fakeGateway
	analyzer *fakeAnalyzer
	linker   *fakeLinker
	server   *Server
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sheet:    sheets.NewMemoryWithSchema("shop"),
		gateway:  &fakeGateway{},
		analyzer: &fakeAnalyzer{},
		linker:   &fakeLinker{linked: map[string]string{}},
	}
	f.tenants = &fakeTenants{tenant: &tenants.Tenant{Email: "owner@example.com", Sheet: f.sheet}}
	f.server = New(Deps{
		Tenants:    f.tenants,
		Accounts:   f.linker,
		Gateway:    f.gateway,
		Analyzer:   f.analyzer,
		Dispatcher: processing.NewDispatcher(80),
		OAuth:      fakeOAuth{},
		Sessions:   auth.NewSessions(0),
	})
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) postWhatsApp(t *testing.T, form url.Values, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func message(body string) url.Values {
	return url.Values{"From": {"whatsapp:+919876543210"}, "Body": {body}, "NumMedia": {"0"}}
}

func TestWebhookAppliesIntent(t *testing.T) {
	f := newFixture(t)
	f.analyzer.intent = llm.Intent{
		Action:      llm.ActionUpdateInventory,
		Item:        "Sugar",
		Quantity:    20,
		Amount:      decimal.NewFromInt(40),
		ResponseMsg: "Sugar ka stock update ho gaya",
	}

	rec := f.postWhatsApp(t, message("20 kilo sugar aaya 40 rupaye"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Message>Sugar ka stock update ho gaya</Message>")
	assert.Equal(t, "Sugar", f.sheet.Cell(sheets.TabInventory, "A", 2))
	assert.Equal(t, "20", f.sheet.Cell(sheets.TabInventory, "B", 2))
	require.Len(t, f.analyzer.got, 1)
	assert.Equal(t, "20 kilo sugar aaya 40 rupaye", f.analyzer.got[0].Text)
}

func TestWebhookWithoutTenantAsksForLogin(t *testing.T) {
	f := newFixture(t)
	f.tenants.tenant = nil

	rec := f.postWhatsApp(t, message("hello"), "")
	assert.Contains(t, rec.Body.String(), ReplyLoginFirst)
	assert.Empty(t, f.analyzer.got)
}

func TestWebhookModelFailure(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = llm.ErrNoJSON

	rec := f.postWhatsApp(t, message("kuch bhi"), "")
	assert.Contains(t, rec.Body.String(), ReplyNotUnderstood)
}

func TestWebhookDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.tenants.tenant.Sheet = sheets.NewMemory("no-tabs")
	f.analyzer.intent = llm.Intent{Action: llm.ActionAddExpense, Item: "Bijli bill", Amount: decimal.NewFromInt(900)}

	rec := f.postWhatsApp(t, message("bijli bill 900"), "")
	assert.Contains(t, rec.Body.String(), ReplySheetFailed)
}

func TestWebhookForwardsMedia(t *testing.T) {
	f := newFixture(t)
	f.gateway.media = []byte{0xff, 0xd8, 0xff}
	f.analyzer.intent = llm.Intent{Action: llm.ActionUnknown, ResponseMsg: "Bill padh liya"}

	form := message("")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://api.twilio.com/media/ME1")
	form.Set("MediaContentType0", "image/png")

	rec := f.postWhatsApp(t, form, "")
	assert.Contains(t, rec.Body.String(), "Bill padh liya")
	require.Len(t, f.analyzer.got, 1)
	assert.True(t, f.analyzer.got[0].HasMedia())
	assert.Equal(t, "image/png", f.analyzer.got[0].MediaType)
}

func TestWebhookIgnoresForeignMediaURL(t *testing.T) {
	var hits int32
	var leaked string
	var mu sync.Mutex
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hits++
		leaked = r.Header.Get("Authorization")
	}))
	defer foreign.Close()

	f := newFixture(t)
	f.analyzer.intent = llm.Intent{Action: llm.ActionUnknown, ResponseMsg: "Namaste"}
	f.server.deps.Gateway = gateway.NewClient("ACsecret", "authtoken", "")
	f.handler = f.server.Handler()

	form := message("hello")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", foreign.URL+"/steal")

	rec := f.postWhatsApp(t, form, "")
	assert.Contains(t, rec.Body.String(), "Namaste")
	require.Len(t, f.analyzer.got, 1)
	assert.False(t, f.analyzer.got[0].HasMedia())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(0), hits)
	assert.Empty(t, leaked)
}

func TestWebhookStatusCallbackGetsEmptyResponse(t *testing.T) {
	f := newFixture(t)
	rec := f.postWhatsApp(t, url.Values{"MessageStatus": {"delivered"}}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response")
	assert.NotContains(t, rec.Body.String(), "<Message>")
	assert.Empty(t, f.analyzer.got)
}

func TestWebhookEmptyMessage(t *testing.T) {
	f := newFixture(t)
	f.gateway.mediaErr = errors.New("404")

	form := message("   ")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://api.twilio.com/media/gone")

	rec := f.postWhatsApp(t, form, "")
	assert.Contains(t, rec.Body.String(), ReplyNotUnderstood)
	assert.Empty(t, f.analyzer.got)
}

func TestWebhookSignatureValidation(t *testing.T) {
	f := newFixture(t)
	f.server.deps.ValidateSignature = true
	f.handler = f.server.Handler()
	f.analyzer.intent = llm.Intent{Action: llm.ActionUnknown, ResponseMsg: "ok"}

	rec := f.postWhatsApp(t, message("hi"), "bad")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.postWhatsApp(t, message("hi"), "good")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestURLPrefersPublicURL(t *testing.T) {
	s := New(Deps{PublicURL: "https://shop.example.com/"})
	req := httptest.NewRequest(http.MethodPost, "http://127.0.0.1:8000/whatsapp", nil)
	assert.Equal(t, "https://shop.example.com/whatsapp", s.requestURL(req))

	s = New(Deps{})
	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://127.0.0.1:8000/whatsapp", s.requestURL(req))
}

func TestLoginCallbackAndLink(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	stateCookies := rec.Result().Cookies()
	require.NotEmpty(t, stateCookies)

	// A callback with a different state is rejected.
	req := httptest.NewRequest(http.MethodGet, "/callback?state=forged&code=good-code", nil)
	req.AddCookie(stateCookies[0])
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.tenants.registered)

	req = httptest.NewRequest(http.MethodGet, "/callback?state="+state+"&code=good-code", nil)
	req.AddCookie(stateCookies[0])
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, []string{"owner@example.com"}, f.tenants.registered)

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "owner@example.com")
	assert.Contains(t, rec.Body.String(), "memory://shop")

	form := url.Values{"phone": {"+91 98765 43210"}}
	req = httptest.NewRequest(http.MethodPost, "/link", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "+91 98765 43210", f.linker.linked["owner@example.com"])
}

func TestLinkRequiresSession(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/link", strings.NewReader("phone=123"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.linker.linked)
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/login"`)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIndexLinksToDashboardServer(t *testing.T) {
	sheet := sheets.NewMemoryWithSchema("shop")
	sessions := auth.NewSessions(0)
	deps := Deps{
		Tenants:       &fakeTenants{tenant: &tenants.Tenant{Email: "owner@example.com", Sheet: sheet}},
		Sessions:      sessions,
		DashboardAddr: "0.0.0.0:8501",
	}
	cookie := &http.Cookie{Name: sessionCookie, Value: sessions.Create("owner@example.com")}

	get := func(s *Server) string {
		req := httptest.NewRequest(http.MethodGet, "http://shop.local:8080/", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	body := get(New(deps))
	assert.Contains(t, body, `href="http://shop.local:8501/dashboard?email=owner%40example.com"`)
	assert.NotContains(t, body, `href="/dashboard`)

	deps.DashboardURL = "https://dash.example.com/"
	body = get(New(deps))
	assert.Contains(t, body, `href="https://dash.example.com/dashboard?email=owner%40example.com"`)

	deps.DashboardURL, deps.DashboardAddr = "", ""
	assert.NotContains(t, get(New(deps)), "Open dashboard")
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"matchbase.io/internal/attachment"
	"matchbase.io/internal/company"
	"matchbase.io/internal/i18n"
	"matchbase.io/internal/identity"
	"matchbase.io/internal/session"
)

const (
	testSecret = "httpapi-test-secret-0123456789abcdef"
	testIssuer = "https://issuer.matchbase.test"
)

type apiClient struct {
	baseURL   string
	client    *http.Client
	t         *testing.T
	companies *company.Service
	storage   *attachment.MemoryStorage
}

type noExchange struct{}

func (noExchange) ExchangeRefreshToken(context.Context, string) (identity.TokenPair, error) {
	return identity.TokenPair{}, errors.New("refresh disabled in tests")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()
	return newTestAPIWithProbe(t, ReadyProbe{}, opts...)
}

func newTestAPIWithProbe(t *testing.T, probe ReadyProbe, opts ...Option) *apiClient {
	t.Helper()

	verifier, err := identity.NewJWTVerifier(identity.WithHMACSecret(testSecret), identity.WithIssuer(testIssuer))
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	cookies, err := session.NewCookies(session.CookieConfig{
		AccessName:  "mb_access_token",
		RefreshName: "mb_refresh_token",
		Local:       true,
		HashKey:     []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("cookies: %v", err)
	}
	companies, err := company.NewService(company.NewMemoryStore())
	if err != nil {
		t.Fatalf("company service: %v", err)
	}
	storage := attachment.NewMemoryStorage()
	attachments, err := attachment.NewService(storage, attachment.NewMemoryMetadata(), companies, attachment.Config{
		MaxBytes:     1 << 10,
		ContentTypes: []string{"image/png", "application/pdf"},
	})
	if err != nil {
		t.Fatalf("attachment service: %v", err)
	}
	tr, err := i18n.New("en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}

	api, err := New(Deps{
		Guard:       session.NewGuard(verifier, noExchange{}, cookies),
		Companies:   companies,
		Attachments: attachments,
		Translator:  tr,
		Ready:       probe,
	}, append([]Option{WithVersion("test"), WithRateLimit(1000, 1000)}, opts...)...)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:   srv.URL,
		client:    srv.Client(),
		t:         t,
		companies: companies,
		storage:   storage,
	}
}

func (c *apiClient) token(subject string) string {
	c.t.Helper()
	claims := identity.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		c.t.Fatalf("sign: %v", err)
	}
	return tok
}

func (c *apiClient) bearer(subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token(subject)}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body.String())
	}
}

// registerOwner creates a company for subject and fills in its information.
func (c *apiClient) registerOwner(subject, name string) (companyID, infoID string) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/companies", map[string]any{
		"name":      name,
		"email":     subject + "@example.test",
		"user_name": "Owner " + name,
	}, c.bearer(subject))
	expectStatus(c.t, resp, http.StatusCreated)
	created := decode[struct {
		Company company.Company `json:"company"`
	}](c.t, resp)

	resp = c.do(http.MethodPut, "/v1/companies/"+created.Company.ID+"/information", map[string]any{
		"type_of_business":    "manufacturing",
		"country":             "JP",
		"years":               "10-20",
		"number_of_employees": "50-100",
		"other_details":       "Looking for a succession partner",
	}, c.bearer(subject))
	expectStatus(c.t, resp, http.StatusOK)
	info := decode[company.Information](c.t, resp)
	return created.Company.ID, info.ID
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health body %v", body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestReadyReportsProbeFailure(t *testing.T) {
	api := newTestAPIWithProbe(t, ReadyProbe{DB: fakePinger{err: errors.New("db down")}})
	resp := api.get("/readyz", nil, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestMissingTokenIsLocalized(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/me", nil, map[string]string{"Accept-Language": "ja"})
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	body := decode[errorResponse](t, resp)
	if body.Code == nil || *body.Code != "SES-UA-001" {
		t.Fatalf("unexpected code %v", body.Code)
	}
	if body.Translated == nil || *body.Translated != "ログインしていません。" {
		t.Fatalf("unexpected translation %v", body.Translated)
	}
}

func TestInvalidTokenIsRejected(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	expectStatus(t, resp, http.StatusUnauthorized)
	body := decode[errorResponse](t, resp)
	// No refresh cookie is present, so the guard reports an expired session.
	if body.Code == nil || *body.Code != "SES-UA-003" {
		t.Fatalf("unexpected code %v", body.Code)
	}
}

func TestUnregisteredSubjectIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/me", nil, api.bearer("sub-nobody"))
	expectStatus(t, resp, http.StatusForbidden)
	body := decode[errorResponse](t, resp)
	if body.Code == nil || *body.Code != "AUT-FB-001" {
		t.Fatalf("unexpected code %v", body.Code)
	}
}

func TestSessionSignInWritesCookies(t *testing.T) {
	api := newTestAPI(t)
	api.registerOwner("sub-owner", "Acme")

	resp := api.do(http.MethodPost, "/v1/auth/session", map[string]any{
		"access_token":  api.token("sub-owner"),
		"refresh_token": "refresh-1",
	}, nil)
	expectStatus(t, resp, http.StatusOK)
	cookies := resp.Cookies()
	_ = resp.Body.Close()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 session cookies, got %d", len(cookies))
	}

	req, _ := http.NewRequest(http.MethodGet, api.baseURL+"/v1/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	me, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	expectStatus(t, me, http.StatusOK)
	body := decode[meResponse](t, me)
	if body.Role != "company" || body.CompanyID == "" {
		t.Fatalf("unexpected principal %+v", body)
	}

	out := api.do(http.MethodDelete, "/v1/auth/session", nil, nil)
	defer out.Body.Close()
	expectStatus(t, out, http.StatusNoContent)
	for _, c := range out.Cookies() {
		if c.MaxAge >= 0 {
			t.Fatalf("cookie %s not expired", c.Name)
		}
	}
}

func TestSummaryWorkflow(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	_, infoID := api.registerOwner("sub-owner", "Acme")
	api.registerOwner("sub-other", "Other")
	if _, err := api.companies.RegisterAdmin(ctx, "sub-admin", "admin@matchbase.test", "Admin"); err != nil {
		t.Fatalf("register admin: %v", err)
	}

	resp := api.do(http.MethodPost, "/v1/company-informations/"+infoID+"/summary", map[string]any{
		"status":           "DRAFT",
		"country":          "JP",
		"title":            "Precision parts maker",
		"content":          "Family-owned supplier",
		"type_of_business": "manufacturing",
	}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusCreated)
	created := decode[company.Summary](t, resp)

	// A second create for the same information is rejected.
	resp = api.do(http.MethodPost, "/v1/company-informations/"+infoID+"/summary", map[string]any{
		"status": "DRAFT", "country": "JP", "title": "Again", "type_of_business": "manufacturing",
	}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusBadRequest)
	_ = resp.Body.Close()

	// Other companies cannot see the draft.
	resp = api.get("/v1/summaries/"+created.ID, nil, api.bearer("sub-other"))
	expectStatus(t, resp, http.StatusNotFound)
	_ = resp.Body.Close()

	resp = api.do(http.MethodPatch, "/v1/summaries/"+created.ID, map[string]any{"status": "SUBMITTED"}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusOK)
	if s := decode[company.Summary](t, resp); s.Status != company.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", s.Status)
	}

	resp = api.do(http.MethodPost, "/v1/admin/summaries/"+created.ID+"/master", nil, api.bearer("sub-admin"))
	expectStatus(t, resp, http.StatusOK)
	posted := decode[company.Summary](t, resp)
	if posted.Status != company.StatusPosted || !posted.IsPublic {
		t.Fatalf("unexpected posted summary %+v", posted)
	}

	resp = api.get("/v1/summaries", url.Values{"country": {"JP"}, "keyword": {"precision"}}, api.bearer("sub-other"))
	expectStatus(t, resp, http.StatusOK)
	list := decode[summaryList](t, resp)
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = api.do(http.MethodPut, "/v1/summaries/"+created.ID+"/translations/ja", map[string]any{
		"title": "精密部品メーカー",
	}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	resp = api.get("/v1/summaries/"+created.ID, nil, api.bearer("sub-other"))
	expectStatus(t, resp, http.StatusOK)
	detail := decode[company.SummaryDetail](t, resp)
	if len(detail.Translations) != 1 || detail.Translations[0].Language != "ja" {
		t.Fatalf("unexpected translations %+v", detail.Translations)
	}
}

func TestPostedStatusFailsValidation(t *testing.T) {
	api := newTestAPI(t)
	_, infoID := api.registerOwner("sub-owner", "Acme")

	resp := api.do(http.MethodPost, "/v1/company-informations/"+infoID+"/summary", map[string]any{
		"status": "POSTED", "country": "JP", "title": "T", "type_of_business": "retail",
	}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decode[errorResponse](t, resp)
	if len(body.Errors) != 1 || body.Errors[0].Field != "status" || body.Errors[0].Rule != "summary_status" {
		t.Fatalf("unexpected field errors %+v", body.Errors)
	}
	if body.Errors[0].Message == "" {
		t.Fatal("expected a field message")
	}
}

func TestIsPublicCannotBeSetByClients(t *testing.T) {
	api := newTestAPI(t)
	_, infoID := api.registerOwner("sub-owner", "Acme")

	resp := api.do(http.MethodPost, "/v1/company-informations/"+infoID+"/summary", map[string]any{
		"status": "DRAFT", "country": "JP", "title": "T", "type_of_business": "retail", "is_public": true,
	}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode[errorResponse](t, resp)
	if body.Code == nil || *body.Code != "API-IA-001" {
		t.Fatalf("unexpected code %v", body.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	api := newTestAPI(t)
	api.registerOwner("sub-owner", "Acme")

	resp := api.do(http.MethodPatch, "/v1/admin/summaries/whatever", map[string]any{"status": "DRAFT"}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusForbidden)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header on 403")
	}
	_ = resp.Body.Close()
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/nope", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	body := decode[errorResponse](t, resp)
	if body.Code == nil || *body.Code != "API-NF-005" {
		t.Fatalf("unexpected code %v", body.Code)
	}
}

func TestWrongMethodIsNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/admin/summaries/01J0000000000000000000000A", nil, map[string]string{"Accept-Language": "ja"})
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if got := resp.Header.Get("Allow"); got != "PATCH" {
		t.Fatalf("Allow = %q", got)
	}
	body := decode[errorResponse](t, resp)
	if body.Code == nil || *body.Code != "API-IA-007" {
		t.Fatalf("unexpected code %v", body.Code)
	}
	if body.Translated == nil || *body.Translated != "このメソッドは使用できません。" {
		t.Fatalf("unexpected translation %v", body.Translated)
	}
}

func TestAttachmentUploadAndList(t *testing.T) {
	api := newTestAPI(t)
	_, infoID := api.registerOwner("sub-owner", "Acme")
	resp := api.do(http.MethodPost, "/v1/company-informations/"+infoID+"/summary", map[string]any{
		"status": "DRAFT", "country": "JP", "title": "T", "type_of_business": "retail",
	}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusCreated)
	s := decode[company.Summary](t, resp)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	upload := func(data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "logo.png")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(data)
		_ = mw.Close()
		req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/v1/summaries/"+s.ID+"/attachments", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+api.token("sub-owner"))
		resp, err := api.client.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		return resp
	}

	resp = upload(png)
	expectStatus(t, resp, http.StatusCreated)
	att := decode[attachment.Attachment](t, resp)
	if att.ContentType != "image/png" || att.FileName != "logo.png" {
		t.Fatalf("unexpected attachment %+v", att)
	}

	resp = upload([]byte("plain text is not allowed"))
	expectStatus(t, resp, http.StatusBadRequest)
	_ = resp.Body.Close()

	resp = api.get("/v1/summaries/"+s.ID+"/attachments", nil, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusOK)
	list := decode[attachmentList](t, resp)
	if len(list.Items) != 1 || list.Items[0].URL == "" {
		t.Fatalf("unexpected attachments %+v", list)
	}

	resp = api.do(http.MethodPost, "/v1/summaries/"+s.ID+"/attachments", map[string]any{"file": "x"}, api.bearer("sub-owner"))
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode[errorResponse](t, resp)
	if body.Code == nil || *body.Code != "API-IA-004" {
		t.Fatalf("unexpected code %v", body.Code)
	}
}

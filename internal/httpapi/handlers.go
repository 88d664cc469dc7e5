// Package httpapi is the HTTP boundary: routing, middleware, the session and
// role guards, and the translation of coded errors into responses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"matchbase.io/internal/attachment"
	"matchbase.io/internal/auth"
	"matchbase.io/internal/company"
	"matchbase.io/internal/i18n"
	"matchbase.io/internal/obs"
	"matchbase.io/internal/session"
)

const serviceName = "matchbase-api"

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database and, when configured, object storage.
type ReadyProbe struct {
	DB      Pinger
	Storage Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Storage != nil {
		if err := rp.Storage.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the services the API is composed from.
type Deps struct {
	Guard       *session.Guard
	Companies   *company.Service
	Attachments *attachment.Service
	Translator  *i18n.Translator
	Ready       ReadyProbe
	Logger      *zap.Logger
}

type API struct {
	mux         *http.ServeMux
	guard       *session.Guard
	companies   *company.Service
	attachments *attachment.Service
	errs        *errorWriter
	readyProbe  ReadyProbe
	logger      *zap.Logger

	version      string
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// Option configures API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLocal exposes internal error messages in responses.
func WithLocal(local bool) Option {
	return func(a *API) { a.errs.local = local }
}

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithMaxBodyBytes bounds JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(d Deps, opts ...Option) (*API, error) {
	if d.Guard == nil || d.Companies == nil || d.Attachments == nil {
		return nil, errors.New("httpapi: guard, company and attachment services are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{
		mux:          http.NewServeMux(),
		guard:        d.Guard,
		companies:    d.Companies,
		attachments:  d.Attachments,
		errs:         &errorWriter{translator: d.Translator, logger: logger},
		readyProbe:   d.Ready,
		logger:       logger,
		version:      "dev",
		rateBurst:    40,
		ratePerSec:   20,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/session", a.createSession)
	a.mux.HandleFunc("DELETE /v1/auth/session", a.deleteSession)
	a.mux.Handle("GET /v1/me", a.authenticated(http.HandlerFunc(a.me)))

	// Registration runs before a user row exists, so only the session guard applies.
	a.mux.Handle("POST /v1/companies", a.withSession(http.HandlerFunc(a.registerCompany)))
	a.mux.Handle("GET /v1/companies/{companyID}/information", a.authenticated(http.HandlerFunc(a.getInformation)))
	a.mux.Handle("PUT /v1/companies/{companyID}/information", a.authenticated(http.HandlerFunc(a.putInformation)))

	a.mux.Handle("POST /v1/company-informations/{infoID}/summary", a.authenticated(http.HandlerFunc(a.createSummary)))
	a.mux.Handle("GET /v1/summaries", a.authenticated(http.HandlerFunc(a.listSummaries)))
	a.mux.Handle("GET /v1/summaries/{id}", a.authenticated(http.HandlerFunc(a.getSummary)))
	a.mux.Handle("PATCH /v1/summaries/{id}", a.authenticated(a.RequireRole(http.HandlerFunc(a.userUpdateSummary), auth.RoleCompany)))
	a.mux.Handle("PUT /v1/summaries/{id}/translations/{lang}", a.authenticated(http.HandlerFunc(a.putTranslation)))
	a.mux.Handle("PATCH /v1/admin/summaries/{id}", a.authenticated(a.RequireRole(http.HandlerFunc(a.adminUpdateSummary), auth.RoleAdmin)))
	a.mux.Handle("POST /v1/admin/summaries/{id}/master", a.authenticated(a.RequireRole(http.HandlerFunc(a.addToMaster), auth.RoleAdmin)))

	upload := MaxBodyBytes(a.authenticated(http.HandlerFunc(a.uploadAttachment)), a.attachments.MaxBytes()+multipartOverhead)
	a.mux.Handle("POST /v1/summaries/{id}/attachments", upload)
	a.mux.Handle("GET /v1/summaries/{id}/attachments", a.authenticated(http.HandlerFunc(a.listAttachments)))

	a.mux.HandleFunc("/", a.unrouted)
}

var routeMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// unrouted answers 405 with Allow when the path is served under another
// method, and 404 otherwise.
func (a *API) unrouted(w http.ResponseWriter, r *http.Request) {
	var allow []string
	for _, m := range routeMethods {
		if m == r.Method {
			continue
		}
		alt := r.Clone(r.Context())
		alt.Method = m
		if _, pattern := a.mux.Handler(alt); pattern != "" && pattern != "/" {
			allow = append(allow, m)
		}
	}
	if len(allow) == 0 {
		a.errs.write(w, r, ErrRouteNotFound)
		return
	}
	w.Header().Set("Allow", strings.Join(allow, ", "))
	a.errs.writeStatus(w, r, http.StatusMethodNotAllowed, ErrMethodNotAllowed)
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec, func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
		a.errs.writeStatus(w, r, http.StatusTooManyRequests, ErrRateLimited)
	})
	h = SecurityHeaders(h)
	h = Logging(h, a.logger)
	h = obs.Instrument(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

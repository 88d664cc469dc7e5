package httpapi

import (
	"net/http"

	"matchbase.io/internal/auth"
)

// withSession runs the session guard and attaches the subject id.
func (a *API) withSession(next http.Handler) http.Handler {
	return a.guard.Middleware(a.errs.write)(next)
}

// authenticated runs the session guard and then resolves the subject to a
// registered principal. Unregistered subjects are rejected with 403.
func (a *API) authenticated(next http.Handler) http.Handler {
	return a.withSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := auth.SubjectFromContext(r.Context())
		if !ok {
			a.errs.write(w, r, auth.ErrUnauthenticated)
			return
		}
		principal, err := a.companies.ResolvePrincipal(r.Context(), subject)
		if err != nil {
			a.errs.write(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	}))
}

// RequireRole gates next on the principal carrying one of roles. It must run
// inside authenticated.
func (a *API) RequireRole(next http.Handler, roles ...auth.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			a.errs.write(w, r, auth.ErrUnauthenticated)
			return
		}
		if !auth.HasRole(r.Context(), roles...) {
			a.errs.write(w, r, auth.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

package httpapi

import (
	"net/http"

	"matchbase.io/internal/auth"
	"matchbase.io/internal/identity"
)

type sessionRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id,omitempty"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req, a.maxBodyBytes); err != nil {
		a.errs.write(w, r, err)
		return
	}
	subject, err := a.guard.Establish(r.Context(), w, identity.TokenPair{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject_id": subject})
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	a.guard.Cookies().Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	writeJSON(w, http.StatusOK, meResponse{
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		Email:     p.Email,
		Role:      p.Role,
	})
}

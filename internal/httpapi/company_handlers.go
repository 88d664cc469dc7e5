package httpapi

import (
	"fmt"
	"net/http"

	"matchbase.io/internal/auth"
	"matchbase.io/internal/company"
)

func (a *API) registerCompany(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		a.errs.write(w, r, auth.ErrUnauthenticated)
		return
	}
	var req company.RegisterCompanyInput
	if err := decodeJSON(w, r, &req, a.maxBodyBytes); err != nil {
		a.errs.write(w, r, err)
		return
	}
	c, u, err := a.companies.RegisterCompany(r.Context(), subject, req)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/companies/%s/information", c.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"company": c,
		"user":    u,
	})
}

func (a *API) getInformation(w http.ResponseWriter, r *http.Request) {
	info, err := a.companies.GetInformation(r.Context(), principal(r), r.PathValue("companyID"))
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) putInformation(w http.ResponseWriter, r *http.Request) {
	var req company.InformationInput
	if err := decodeJSON(w, r, &req, a.maxBodyBytes); err != nil {
		a.errs.write(w, r, err)
		return
	}
	info, err := a.companies.PutInformation(r.Context(), principal(r), r.PathValue("companyID"), req)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

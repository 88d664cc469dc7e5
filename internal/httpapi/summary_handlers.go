package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"matchbase.io/internal/auth"
	"matchbase.io/internal/company"
)

type summaryList struct {
	Items  []company.Summary `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (a *API) createSummary(w http.ResponseWriter, r *http.Request) {
	var req company.CreateSummaryInput
	if err := decodeJSON(w, r, &req, a.maxBodyBytes); err != nil {
		a.errs.write(w, r, err)
		return
	}
	s, err := a.companies.CreateSummary(r.Context(), principal(r), r.PathValue("infoID"), req)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/summaries/%s", s.ID))
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) listSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), "limit", company.DefaultListLimit, 1, company.MaxListLimit)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), "offset", 0, 0, 1_000_000)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	filter := company.ListFilter{
		TypeOfBusiness:    q["type_of_business"],
		Years:             q["years"],
		Country:           q["country"],
		Area:              q["area"],
		NumberOfEmployees: q["number_of_employees"],
		AnnualRevenue:     q["annual_revenue"],
		Keyword:           q.Get("keyword"),
		Limit:             limit,
		Offset:            offset,
	}
	items, err := a.companies.ListSummaries(r.Context(), principal(r), filter)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryList{Items: items, Limit: limit, Offset: offset})
}

func (a *API) getSummary(w http.ResponseWriter, r *http.Request) {
	detail, err := a.companies.GetSummary(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) userUpdateSummary(w http.ResponseWriter, r *http.Request) {
	a.updateSummary(w, r, a.companies.UserUpdateSummary)
}

func (a *API) adminUpdateSummary(w http.ResponseWriter, r *http.Request) {
	a.updateSummary(w, r, a.companies.AdminUpdateSummary)
}

func (a *API) updateSummary(w http.ResponseWriter, r *http.Request, update func(ctx context.Context, p auth.Principal, id string, in company.UpdateSummaryInput) (company.Summary, error)) {
	var req company.UpdateSummaryInput
	if err := decodeJSON(w, r, &req, a.maxBodyBytes); err != nil {
		a.errs.write(w, r, err)
		return
	}
	s, err := update(r.Context(), principal(r), r.PathValue("id"), req)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) addToMaster(w http.ResponseWriter, r *http.Request) {
	s, err := a.companies.AddToMaster(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) putTranslation(w http.ResponseWriter, r *http.Request) {
	var req company.TranslationInput
	if err := decodeJSON(w, r, &req, a.maxBodyBytes); err != nil {
		a.errs.write(w, r, err)
		return
	}
	t, err := a.companies.PutTranslation(r.Context(), principal(r), r.PathValue("id"), r.PathValue("lang"), req)
	if err != nil {
		a.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

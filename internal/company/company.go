// Package company holds the tenant model (companies, users, company
// information) and the summary review workflow built on top of it.
//
// Entities reference each other by id only. Every operation loads what it
// needs through a Repository inside one Store.WithinTx call.
package company

import (
	"strings"
	"time"

	"matchbase.io/internal/auth"
)

// Status is a summary workflow state.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusDraftFromAdmin Status = "DRAFT_FROM_ADMIN"
	StatusRequest        Status = "REQUEST"
	StatusSubmitted      Status = "SUBMITTED"
	StatusPosted         Status = "POSTED"
)

// ParseStatus accepts any known status.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.TrimSpace(raw)); s {
	case StatusDraft, StatusDraftFromAdmin, StatusRequest, StatusSubmitted, StatusPosted:
		return s, true
	}
	return "", false
}

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User links a provider subject to a company (or to no company for admins).
type User struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"-"`
	CompanyID string    `json:"company_id,omitempty"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Principal() auth.Principal {
	return auth.Principal{
		UserID:    u.ID,
		SubjectID: u.SubjectID,
		CompanyID: u.CompanyID,
		Email:     u.Email,
		Role:      u.Role,
	}
}

// Information is the editable company profile a summary is derived from.
// Exactly one of the sell-shares, issue-shares and other-details groups is
// populated.
type Information struct {
	ID                    string    `json:"id"`
	CompanyID             string    `json:"company_id"`
	TypeOfBusiness        string    `json:"type_of_business"`
	Country               string    `json:"country"`
	Area                  string    `json:"area"`
	Years                 string    `json:"years"`
	NumberOfEmployees     string    `json:"number_of_employees"`
	AnnualRevenue         string    `json:"annual_revenue"`
	SellSharesPercentage  *float64  `json:"sell_shares_percentage"`
	SellSharesAmount      *int64    `json:"sell_shares_amount"`
	IssueSharesPercentage *float64  `json:"issue_shares_percentage"`
	IssueSharesAmount     *int64    `json:"issue_shares_amount"`
	OtherDetails          string    `json:"other_details"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Summary is the public-facing profile gated by the status workflow. Rows
// are never deleted.
type Summary struct {
	ID                   string    `json:"id"`
	CompanyInformationID string    `json:"company_information_id"`
	Status               Status    `json:"status"`
	Country              string    `json:"country"`
	Title                string    `json:"title"`
	Content              string    `json:"content"`
	TypeOfBusiness       string    `json:"type_of_business"`
	IsPublic             bool      `json:"is_public"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Translation is one localized rendition of a summary, unique per language.
type Translation struct {
	ID        string    `json:"id"`
	SummaryID string    `json:"summary_id"`
	Language  string    `json:"language"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SummaryDetail is a summary with its translations loaded.
type SummaryDetail struct {
	Summary
	Translations []Translation `json:"translations"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilter selects summaries. Each slice is an OR-set; different fields
// are ANDed. Empty slices do not filter.
type ListFilter struct {
	TypeOfBusiness    []string
	Years             []string
	Country           []string
	Area              []string
	NumberOfEmployees []string
	AnnualRevenue     []string
	Keyword           string
	Limit             int
	Offset            int

	// ViewerCompanyID, when VisibleOnly is set, widens the public-only view
	// with that company's own summaries.
	ViewerCompanyID string
	VisibleOnly     bool
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Keyword = strings.TrimSpace(f.Keyword)
	return f
}

// Matches reports whether s (with its information row) passes f.
func (f ListFilter) Matches(s Summary, info Information) bool {
	if f.VisibleOnly && !s.IsPublic && (f.ViewerCompanyID == "" || info.CompanyID != f.ViewerCompanyID) {
		return false
	}
	if !anyOf(f.TypeOfBusiness, s.TypeOfBusiness) ||
		!anyOf(f.Country, s.Country) ||
		!anyOf(f.Years, info.Years) ||
		!anyOf(f.Area, info.Area) ||
		!anyOf(f.NumberOfEmployees, info.NumberOfEmployees) ||
		!anyOf(f.AnnualRevenue, info.AnnualRevenue) {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(s.Title), kw) && !strings.Contains(strings.ToLower(s.Content), kw) {
			return false
		}
	}
	return true
}

func anyOf(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

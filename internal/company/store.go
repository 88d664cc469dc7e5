package company

import (
	"context"
	"errors"
)

// Repository errors. Implementations return these (possibly wrapped) so the
// workflow can classify them.
var (
	ErrNotFound  = errors.New("company: not found")
	ErrDuplicate = errors.New("company: duplicate")
)

// Store opens units of work. fn runs inside a single transaction that is
// committed when fn returns nil and rolled back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// Repository is the transaction-scoped data access surface.
type Repository interface {
	CreateCompany(ctx context.Context, c Company) error
	CompanyByID(ctx context.Context, id string) (Company, error)

	CreateUser(ctx context.Context, u User) error
	UserBySubject(ctx context.Context, subjectID string) (User, error)
	UsersByCompany(ctx context.Context, companyID string) ([]User, error)
	Admins(ctx context.Context) ([]User, error)

	InformationByID(ctx context.Context, id string) (Information, error)
	InformationByCompany(ctx context.Context, companyID string) (Information, error)
	// SaveInformation inserts or replaces the row identified by info.ID.
	SaveInformation(ctx context.Context, info Information) error

	SummaryByID(ctx context.Context, id string) (Summary, error)
	SummaryByInformation(ctx context.Context, informationID string) (Summary, error)
	// InsertSummary returns ErrDuplicate when the information already has a
	// summary.
	InsertSummary(ctx context.Context, s Summary) error
	UpdateSummary(ctx context.Context, s Summary) error
	ListSummaries(ctx context.Context, f ListFilter) ([]Summary, error)

	TranslationsBySummary(ctx context.Context, summaryID string) ([]Translation, error)
	TranslationByLanguage(ctx context.Context, summaryID, language string) (Translation, error)
	InsertTranslation(ctx context.Context, t Translation) error
	UpdateTranslation(ctx context.Context, t Translation) error
}

package company

import (
	"context"
	"errors"

	"golang.org/x/text/language"

	"matchbase.io/internal/apperr"
	"matchbase.io/internal/audit"
	"matchbase.io/internal/auth"
	"matchbase.io/internal/notify"
	"matchbase.io/internal/obs"
)

// Target statuses each role may not choose on create.
var createForbidden = map[auth.Role]map[Status]bool{
	auth.RoleCompany: {StatusDraftFromAdmin: true, StatusRequest: true, StatusPosted: true},
	auth.RoleAdmin:   {StatusSubmitted: true, StatusPosted: true},
}

// Target statuses each update path may not choose.
var (
	adminUpdateForbidden = map[Status]bool{StatusSubmitted: true, StatusPosted: true}
	userUpdateForbidden  = map[Status]bool{StatusDraftFromAdmin: true, StatusPosted: true, StatusRequest: true}
)

// masterEligible lists the statuses AddToMaster accepts.
var masterEligible = map[Status]bool{StatusSubmitted: true, StatusPosted: true}

// CreateSummary creates the summary for a company information row.
func (s *Service) CreateSummary(ctx context.Context, p auth.Principal, informationID string, in CreateSummaryInput) (Summary, error) {
	if err := validateInput(apperr.ComponentSummary, 10, in); err != nil {
		return Summary{}, err
	}
	status := Status(in.Status)
	forbidden, known := createForbidden[p.Role]
	if !known {
		return Summary{}, ErrRoleForbidden
	}
	if forbidden[status] {
		return Summary{}, ErrForbiddenStatus.With("Status", string(status))
	}

	var (
		created Summary
		mail    *notify.Message
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		info, err := repo.InformationByID(ctx, informationID)
		if err != nil {
			return persistErr(err, apperr.ComponentSummary, siteLoad, ErrInformationNotFound)
		}
		if !p.IsAdmin() && !p.OwnsCompany(info.CompanyID) {
			return ErrNotOwner
		}
		if _, err := repo.SummaryByInformation(ctx, informationID); err == nil {
			return ErrSummaryExists
		} else if !errors.Is(err, ErrNotFound) {
			return persistErr(err, apperr.ComponentSummary, siteLoad, nil)
		}

		now := s.now()
		summary := Summary{
			ID:                   s.newID(),
			CompanyInformationID: informationID,
			Status:               status,
			Country:              in.Country,
			Title:                in.Title,
			Content:              in.Content,
			TypeOfBusiness:       in.TypeOfBusiness,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := repo.InsertSummary(ctx, summary); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrSummaryExists.Wrapf(err)
			}
			return persistErr(err, apperr.ComponentSummary, siteSave, nil)
		}
		if status == StatusRequest {
			if mail, err = requestMessage(ctx, repo, info, summary); err != nil {
				return err
			}
		}
		created = summary
		return nil
	})
	if err != nil {
		return Summary{}, txErr(err, apperr.ComponentSummary)
	}
	s.committed(ctx, "create", created, mail)
	return created, nil
}

// AdminUpdateSummary is the admin's generic update path.
func (s *Service) AdminUpdateSummary(ctx context.Context, p auth.Principal, summaryID string, in UpdateSummaryInput) (Summary, error) {
	if !p.IsAdmin() {
		return Summary{}, ErrRoleForbidden
	}
	if err := validateInput(apperr.ComponentSummary, 11, in); err != nil {
		return Summary{}, err
	}
	status := Status(in.Status)
	if adminUpdateForbidden[status] {
		return Summary{}, ErrForbiddenStatus.With("Status", string(status))
	}

	var (
		updated Summary
		mail    *notify.Message
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		summary, err := repo.SummaryByID(ctx, summaryID)
		if err != nil {
			return persistErr(err, apperr.ComponentSummary, siteLoad, ErrSummaryNotFound)
		}
		summary = s.apply(summary, in)
		if err := repo.UpdateSummary(ctx, summary); err != nil {
			return persistErr(err, apperr.ComponentSummary, siteSave, ErrSummaryNotFound)
		}
		if status == StatusRequest {
			info, err := repo.InformationByID(ctx, summary.CompanyInformationID)
			if err != nil {
				return persistErr(err, apperr.ComponentSummary, siteLoad, ErrInformationNotFound)
			}
			if mail, err = requestMessage(ctx, repo, info, summary); err != nil {
				return err
			}
		}
		updated = summary
		return nil
	})
	if err != nil {
		return Summary{}, txErr(err, apperr.ComponentSummary)
	}
	s.committed(ctx, "admin_update", updated, mail)
	return updated, nil
}

// UserUpdateSummary is the owning company user's generic update path.
func (s *Service) UserUpdateSummary(ctx context.Context, p auth.Principal, summaryID string, in UpdateSummaryInput) (Summary, error) {
	if p.Role != auth.RoleCompany {
		return Summary{}, ErrRoleForbidden
	}
	if err := validateInput(apperr.ComponentSummary, 12, in); err != nil {
		return Summary{}, err
	}
	status := Status(in.Status)
	if userUpdateForbidden[status] {
		return Summary{}, ErrForbiddenStatus.With("Status", string(status))
	}

	var (
		updated Summary
		mail    *notify.Message
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		summary, err := repo.SummaryByID(ctx, summaryID)
		if err != nil {
			return persistErr(err, apperr.ComponentSummary, siteLoad, ErrSummaryNotFound)
		}
		info, err := repo.InformationByID(ctx, summary.CompanyInformationID)
		if err != nil {
			return persistErr(err, apperr.ComponentSummary, siteLoad, ErrInformationNotFound)
		}
		if !p.OwnsCompany(info.CompanyID) {
			return ErrNotOwner
		}
		summary = s.apply(summary, in)
		if err := repo.UpdateSummary(ctx, summary); err != nil {
			return persistErr(err, apperr.ComponentSummary, siteSave, ErrSummaryNotFound)
		}
		if status == StatusSubmitted {
			if mail, err = submittedMessage(ctx, repo, p, info, summary); err != nil {
				return err
			}
		}
		updated = summary
		return nil
	})
	if err != nil {
		return Summary{}, txErr(err, apperr.ComponentSummary)
	}
	s.committed(ctx, "user_update", updated, mail)
	return updated, nil
}

// AddToMaster publishes a submitted summary: status POSTED and public.
func (s *Service) AddToMaster(ctx context.Context, p auth.Principal, summaryID string) (Summary, error) {
	if !p.IsAdmin() {
		return Summary{}, ErrRoleForbidden
	}
	var posted Summary
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		summary, err := repo.SummaryByID(ctx, summaryID)
		if err != nil {
			return persistErr(err, apperr.ComponentSummary, siteLoad, ErrSummaryNotFound)
		}
		if !masterEligible[summary.Status] {
			return ErrNotEligible.With("Status", string(summary.Status))
		}
		summary.Status = StatusPosted
		summary.IsPublic = true
		summary.UpdatedAt = s.now()
		if err := repo.UpdateSummary(ctx, summary); err != nil {
			return persistErr(err, apperr.ComponentSummary, siteSave, ErrSummaryNotFound)
		}
		posted = summary
		return nil
	})
	if err != nil {
		return Summary{}, txErr(err, apperr.ComponentSummary)
	}
	s.committed(ctx, "add_to_master", posted, nil)
	return posted, nil
}

// ListSummaries returns summaries matching f. Company users only see public
// summaries and their own company's.
func (s *Service) ListSummaries(ctx context.Context, p auth.Principal, f ListFilter) ([]Summary, error) {
	f = f.normalized()
	if !p.IsAdmin() {
		f.VisibleOnly = true
		f.ViewerCompanyID = p.CompanyID
	}
	var out []Summary
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListSummaries(ctx, f)
		return persistErr(err, apperr.ComponentSummary, siteLoad, nil)
	})
	if err != nil {
		return nil, txErr(err, apperr.ComponentSummary)
	}
	return out, nil
}

// GetSummary loads a summary and its translations. Summaries the caller may
// not see are reported as missing.
func (s *Service) GetSummary(ctx context.Context, p auth.Principal, summaryID string) (SummaryDetail, error) {
	var detail SummaryDetail
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		summary, err := s.visibleSummary(ctx, repo, p, summaryID, false)
		if err != nil {
			return err
		}
		translations, err := repo.TranslationsBySummary(ctx, summaryID)
		if err != nil {
			return persistErr(err, apperr.ComponentSummary, siteLoad, nil)
		}
		detail = SummaryDetail{Summary: summary, Translations: translations}
		return nil
	})
	if err != nil {
		return SummaryDetail{}, txErr(err, apperr.ComponentSummary)
	}
	if detail.Translations == nil {
		detail.Translations = []Translation{}
	}
	return detail, nil
}

// PutTranslation creates or replaces the translation for lang.
func (s *Service) PutTranslation(ctx context.Context, p auth.Principal, summaryID, lang string, in TranslationInput) (Translation, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return Translation{}, ErrInvalidLanguage.With("Language", lang).Wrapf(err)
	}
	if err := validateInput(apperr.ComponentSummary, 13, in); err != nil {
		return Translation{}, err
	}
	code := tag.String()

	var saved Translation
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := s.visibleSummary(ctx, repo, p, summaryID, true); err != nil {
			return err
		}
		now := s.now()
		existing, err := repo.TranslationByLanguage(ctx, summaryID, code)
		switch {
		case err == nil:
			existing.Title = in.Title
			existing.Content = in.Content
			existing.UpdatedAt = now
			if err := repo.UpdateTranslation(ctx, existing); err != nil {
				return persistErr(err, apperr.ComponentSummary, siteSave, nil)
			}
			saved = existing
		case errors.Is(err, ErrNotFound):
			t := Translation{
				ID:        s.newID(),
				SummaryID: summaryID,
				Language:  code,
				Title:     in.Title,
				Content:   in.Content,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := repo.InsertTranslation(ctx, t); err != nil {
				return persistErr(err, apperr.ComponentSummary, siteSave, nil)
			}
			saved = t
		default:
			return persistErr(err, apperr.ComponentSummary, siteLoad, nil)
		}
		return nil
	})
	if err != nil {
		return Translation{}, txErr(err, apperr.ComponentSummary)
	}
	_ = audit.LogEvent(ctx, "summary.translation_saved", map[string]any{"summary_id": summaryID, "language": code})
	return saved, nil
}

// AuthorizeSummary checks that p may read (or, with write, modify) the
// summary's dependent resources such as attachments.
func (s *Service) AuthorizeSummary(ctx context.Context, p auth.Principal, summaryID string, write bool) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		_, err := s.visibleSummary(ctx, repo, p, summaryID, write)
		return err
	})
	return txErr(err, apperr.ComponentSummary)
}

// visibleSummary loads the summary and enforces access. Admins see
// everything. Company users may read public summaries and their own, and
// may write only their own.
func (s *Service) visibleSummary(ctx context.Context, repo Repository, p auth.Principal, summaryID string, write bool) (Summary, error) {
	summary, err := repo.SummaryByID(ctx, summaryID)
	if err != nil {
		return Summary{}, persistErr(err, apperr.ComponentSummary, siteLoad, ErrSummaryNotFound)
	}
	if p.IsAdmin() {
		return summary, nil
	}
	if !write && summary.IsPublic {
		return summary, nil
	}
	info, err := repo.InformationByID(ctx, summary.CompanyInformationID)
	if err != nil {
		return Summary{}, persistErr(err, apperr.ComponentSummary, siteLoad, ErrInformationNotFound)
	}
	if p.OwnsCompany(info.CompanyID) {
		return summary, nil
	}
	if write && summary.IsPublic {
		return Summary{}, ErrNotOwner
	}
	return Summary{}, ErrSummaryNotFound
}

// apply merges a generic update. Generic paths never target POSTED, so the
// result is always unpublished until an admin adds it to master again.
func (s *Service) apply(summary Summary, in UpdateSummaryInput) Summary {
	summary.Status = Status(in.Status)
	summary.IsPublic = false
	if in.Country != nil {
		summary.Country = *in.Country
	}
	if in.Title != nil {
		summary.Title = *in.Title
	}
	if in.Content != nil {
		summary.Content = *in.Content
	}
	if in.TypeOfBusiness != nil {
		summary.TypeOfBusiness = *in.TypeOfBusiness
	}
	summary.UpdatedAt = s.now()
	return summary
}

// committed records a transition that has been persisted and then sends the
// pending notification, if any.
func (s *Service) committed(ctx context.Context, op string, summary Summary, mail *notify.Message) {
	obs.ObserveSummaryTransition(op, string(summary.Status))
	_ = audit.LogEvent(ctx, "summary."+op, map[string]any{
		"summary_id":     summary.ID,
		"information_id": summary.CompanyInformationID,
		"status":         string(summary.Status),
		"is_public":      summary.IsPublic,
	})
	s.deliver(ctx, mail)
}

// requestMessage addresses the company's users and every admin.
func requestMessage(ctx context.Context, repo Repository, info Information, summary Summary) (*notify.Message, error) {
	company, err := repo.CompanyByID(ctx, info.CompanyID)
	if err != nil {
		return nil, persistErr(err, apperr.ComponentSummary, siteLoad, ErrCompanyNotFound)
	}
	users, err := repo.UsersByCompany(ctx, info.CompanyID)
	if err != nil {
		return nil, persistErr(err, apperr.ComponentSummary, siteLoad, nil)
	}
	admins, err := repo.Admins(ctx)
	if err != nil {
		return nil, persistErr(err, apperr.ComponentSummary, siteLoad, nil)
	}
	to := make([]string, 0, len(users)+len(admins))
	for _, u := range append(users, admins...) {
		to = append(to, u.Email)
	}
	msg := notify.SummaryRequest(to, notify.SummaryRef{ID: summary.ID, Title: summary.Title, CompanyName: company.Name})
	return &msg, nil
}

// submittedMessage addresses the submitting user and every admin.
func submittedMessage(ctx context.Context, repo Repository, p auth.Principal, info Information, summary Summary) (*notify.Message, error) {
	company, err := repo.CompanyByID(ctx, info.CompanyID)
	if err != nil {
		return nil, persistErr(err, apperr.ComponentSummary, siteLoad, ErrCompanyNotFound)
	}
	admins, err := repo.Admins(ctx)
	if err != nil {
		return nil, persistErr(err, apperr.ComponentSummary, siteLoad, nil)
	}
	to := make([]string, 0, len(admins)+1)
	to = append(to, p.Email)
	for _, u := range admins {
		to = append(to, u.Email)
	}
	msg := notify.SummarySubmitted(to, notify.SummaryRef{ID: summary.ID, Title: summary.Title, CompanyName: company.Name})
	return &msg, nil
}

package company

import (
	"errors"

	"matchbase.io/internal/apperr"
)

var (
	ErrCompanyNotFound     = apperr.New(apperr.KindNotFound, apperr.ComponentCompany, 1, "company.not_found", "company not found")
	ErrInformationNotFound = apperr.New(apperr.KindNotFound, apperr.ComponentCompany, 2, "company.information_not_found", "company information not found")
	ErrAlreadyRegistered   = apperr.New(apperr.KindInvalidArgument, apperr.ComponentCompany, 3, "company.already_registered", "subject already registered")
	ErrCompanyForbidden    = apperr.New(apperr.KindForbidden, apperr.ComponentCompany, 4, "company.forbidden", "not a user of this company")

	ErrSummaryNotFound = apperr.New(apperr.KindNotFound, apperr.ComponentSummary, 1, "summary.not_found", "summary not found")
	ErrSummaryExists   = apperr.New(apperr.KindInvalidArgument, apperr.ComponentSummary, 2, "summary.already_exists", "summary already exists for company information")
	ErrForbiddenStatus = apperr.New(apperr.KindForbidden, apperr.ComponentSummary, 3, "summary.forbidden_status", "target status not allowed for role")
	ErrNotOwner        = apperr.New(apperr.KindForbidden, apperr.ComponentSummary, 4, "summary.forbidden_owner", "caller does not own the summary")
	ErrNotEligible     = apperr.New(apperr.KindInvalidArgument, apperr.ComponentSummary, 5, "summary.not_eligible", "summary status not eligible for master")
	ErrInvalidLanguage = apperr.New(apperr.KindInvalidArgument, apperr.ComponentSummary, 6, "summary.invalid_language", "invalid language tag")
	ErrRoleForbidden   = apperr.New(apperr.KindForbidden, apperr.ComponentSummary, 7, "auth.forbidden", "role not permitted")
)

// Call sites for wrapped persistence failures.
const (
	siteTx = 90 + iota
	siteLoad
	siteSave
)

// persistErr classifies a repository error. ErrNotFound becomes notFound
// when given; anything else is an internal failure.
func persistErr(err error, comp apperr.Component, site int, notFound *apperr.Error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, ErrNotFound) {
		return notFound.Wrapf(err)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(err, apperr.KindInternal, comp, site, "internal", "persistence failure")
}

// txErr makes sure errors escaping WithinTx (commit failures included) are
// coded.
func txErr(err error, comp apperr.Component) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(err, apperr.KindInternal, comp, siteTx, "internal", "transaction failed")
}

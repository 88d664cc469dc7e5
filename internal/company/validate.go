package company

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"matchbase.io/internal/apperr"
)

// RegisterCompanyInput is the registration payload.
type RegisterCompanyInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=254"`
	UserName string `json:"user_name" validate:"required,max=100"`
}

// InformationInput is the company information payload.
type InformationInput struct {
	TypeOfBusiness        string   `json:"type_of_business" validate:"required,max=100"`
	Country               string   `json:"country" validate:"required,iso3166_1_alpha2"`
	Area                  string   `json:"area" validate:"max=100"`
	Years                 string   `json:"years" validate:"max=32"`
	NumberOfEmployees     string   `json:"number_of_employees" validate:"max=32"`
	AnnualRevenue         string   `json:"annual_revenue" validate:"max=32"`
	SellSharesPercentage  *float64 `json:"sell_shares_percentage" validate:"omitempty,gte=0,lte=100"`
	SellSharesAmount      *int64   `json:"sell_shares_amount" validate:"omitempty,gte=1"`
	IssueSharesPercentage *float64 `json:"issue_shares_percentage" validate:"omitempty,gte=0,lte=100"`
	IssueSharesAmount     *int64   `json:"issue_shares_amount" validate:"omitempty,gte=1"`
	OtherDetails          string   `json:"other_details" validate:"max=5000"`
}

// CreateSummaryInput is the create payload. is_public is not accepted.
type CreateSummaryInput struct {
	Status         string `json:"status" validate:"required,summary_status"`
	Country        string `json:"country" validate:"required,iso3166_1_alpha2"`
	Title          string `json:"title" validate:"required,max=200"`
	Content        string `json:"content" validate:"max=20000"`
	TypeOfBusiness string `json:"type_of_business" validate:"required,max=100"`
}

// UpdateSummaryInput is the generic update payload; nil fields are left
// unchanged.
type UpdateSummaryInput struct {
	Status         string  `json:"status" validate:"required,summary_status"`
	Country        *string `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	Title          *string `json:"title" validate:"omitempty,min=1,max=200"`
	Content        *string `json:"content" validate:"omitempty,max=20000"`
	TypeOfBusiness *string `json:"type_of_business" validate:"omitempty,min=1,max=100"`
}

// TranslationInput is the translation payload.
type TranslationInput struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"max=20000"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := v.RegisterValidation("summary_status", validSummaryStatus); err != nil {
			panic(err)
		}
		v.RegisterStructValidation(validateTransactionGroups, InformationInput{})
		validate = v
	})
	return validate
}

// validSummaryStatus accepts every workflow status except POSTED, which is
// only reachable through AddToMaster.
func validSummaryStatus(fl validator.FieldLevel) bool {
	s, ok := ParseStatus(fl.Field().String())
	return ok && s != StatusPosted
}

func validateTransactionGroups(sl validator.StructLevel) {
	in := sl.Current().Interface().(InformationInput)

	sell := in.SellSharesPercentage != nil || in.SellSharesAmount != nil
	issue := in.IssueSharesPercentage != nil || in.IssueSharesAmount != nil
	other := strings.TrimSpace(in.OtherDetails) != ""

	populated := 0
	for _, g := range []bool{sell, issue, other} {
		if g {
			populated++
		}
	}
	if populated != 1 {
		sl.ReportError(in.OtherDetails, "transaction", "Transaction", "exactly_one_transaction", "")
		return
	}

	switch {
	case sell && in.SellSharesPercentage == nil:
		sl.ReportError(in.SellSharesPercentage, "sell_shares_percentage", "SellSharesPercentage", "required", "")
	case sell && in.SellSharesAmount == nil:
		sl.ReportError(in.SellSharesAmount, "sell_shares_amount", "SellSharesAmount", "required", "")
	case issue && in.IssueSharesPercentage == nil:
		sl.ReportError(in.IssueSharesPercentage, "issue_shares_percentage", "IssueSharesPercentage", "required", "")
	case issue && in.IssueSharesAmount == nil:
		sl.ReportError(in.IssueSharesAmount, "issue_shares_amount", "IssueSharesAmount", "required", "")
	}
}

// validateInput runs struct validation and converts failures to a coded
// validation error.
func validateInput(comp apperr.Component, site int, in any) error {
	err := validatorInstance().Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(err, apperr.KindInvalidArgument, comp, site, "request.invalid_body", "invalid payload")
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		fields = append(fields, apperr.FieldError{
			Field:   path,
			Rule:    fe.Tag(),
			Param:   fe.Param(),
			Message: fieldMessage(path, fe.Tag(), fe.Param()),
		})
	}
	return apperr.Validation(comp, site, fields)
}

func fieldMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be %s or more", field, param)
	case "lte":
		return fmt.Sprintf("%s must be %s or less", field, param)
	case "iso3166_1_alpha2":
		return fmt.Sprintf("%s must be a two-letter country code", field)
	case "summary_status":
		return fmt.Sprintf("%s is not an accepted summary status", field)
	case "exactly_one_transaction":
		return "exactly one of sell shares, issue shares or other details must be filled in"
	default:
		return fmt.Sprintf("%s failed on the %s rule", field, tag)
	}
}

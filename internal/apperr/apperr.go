// Package apperr defines the coded error value shared by every component.
//
// Domain packages raise plain sentinels close to the violation; the component
// that owns the sentinel converts it to an *Error carrying the kind, a
// component prefix and a call-site number. Only the HTTP boundary turns an
// *Error into a status code and response body.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the boundary translator.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// typeCode is the middle segment of a machine-readable error code.
func (k Kind) typeCode() string {
	switch k {
	case KindInvalidArgument:
		return "IA"
	case KindUnauthorized:
		return "UA"
	case KindForbidden:
		return "FB"
	case KindNotFound:
		return "NF"
	case KindValidation:
		return "VL"
	default:
		return "IN"
	}
}

// Component is the code prefix naming the subsystem that raised the error.
type Component string

const (
	ComponentSession    Component = "SES"
	ComponentAuth       Component = "AUT"
	ComponentCompany    Component = "CMP"
	ComponentSummary    Component = "SUM"
	ComponentAttachment Component = "ATT"
	ComponentAPI        Component = "API"
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"-"`
	Message string `json:"message"`
}

// Error is the tagged error variant matched at the HTTP boundary.
type Error struct {
	Kind      Kind
	Component Component
	Site      int
	// Key is the localization message id.
	Key     string
	Message string
	// Data feeds the localized message template.
	Data   map[string]any
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors raised at the same site, so copies produced by With and
// Wrapf still compare equal to the package-level value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Component == t.Component && e.Site == t.Site && e.Key == t.Key
}

// With returns a copy of e carrying template data for the localized message.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Data = make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	cp.Data[key] = value
	return &cp
}

// Wrapf returns a copy of e with cause attached.
func (e *Error) Wrapf(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// Code returns the stable code "<component>-<type>-<site>", or "" when the
// error was not raised by a named component.
func (e *Error) Code() string {
	if e == nil || e.Component == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s-%03d", e.Component, e.Kind.typeCode(), e.Site)
}

// New builds a coded error without a cause.
func New(kind Kind, component Component, site int, key, message string) *Error {
	return &Error{Kind: kind, Component: component, Site: site, Key: key, Message: message}
}

// Wrap builds a coded error around cause.
func Wrap(cause error, kind Kind, component Component, site int, key, message string) *Error {
	return &Error{Kind: kind, Component: component, Site: site, Key: key, Message: message, Err: cause}
}

// Validation builds a 422-class error from field failures.
func Validation(component Component, site int, fields []FieldError) *Error {
	return &Error{
		Kind:      KindValidation,
		Component: component,
		Site:      site,
		Key:       "validation.failed",
		Message:   "validation failed",
		Fields:    fields,
	}
}

// Internal wraps an unclassified failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Key: "internal", Message: "internal server error", Err: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"matchbase.io/internal/apperr"
	"matchbase.io/internal/audit"
	"matchbase.io/internal/i18n"
	"matchbase.io/internal/session"
)

// Boundary errors raised by the HTTP layer itself.
var (
	ErrInvalidBody      = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAPI, 1, "request.invalid_body", "invalid request body")
	ErrInvalidQuery     = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAPI, 2, "request.invalid_query", "invalid query parameter")
	ErrBodyTooLarge     = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAPI, 3, "request.too_large", "request body too large")
	ErrUnsupportedMedia = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAPI, 4, "request.unsupported_media_type", "unsupported content type")
	ErrRouteNotFound    = apperr.New(apperr.KindNotFound, apperr.ComponentAPI, 5, "request.not_found", "resource not found")
	ErrRateLimited      = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAPI, 6, "request.rate_limited", "rate limit exceeded")
	ErrMethodNotAllowed = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAPI, 7, "request.method_not_allowed", "method not allowed")
)

type errorResponse struct {
	Message    string       `json:"message"`
	Translated *string      `json:"translated"`
	Code       *string      `json:"code"`
	Errors     []fieldError `json:"errors"`
}

type fieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type errorWriter struct {
	translator *i18n.Translator
	logger     *zap.Logger
	local      bool
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// classify turns any error into a coded one. The second result reports
// whether the failure is expected noise that should not be logged as an
// error.
func classify(err error) (*apperr.Error, bool) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return ErrBodyTooLarge.Wrapf(err), true
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return ErrUnsupportedMedia.Wrapf(err), true
	}
	benign := errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, context.Canceled)
	if e, ok := apperr.As(err); ok {
		return e, benign || errors.Is(e, ErrBodyTooLarge) || errors.Is(e, ErrUnsupportedMedia)
	}
	return apperr.Internal(err), benign
}

func (ew *errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	e, benign := classify(err)
	status := statusFor(e.Kind)
	ew.log(r, status, e, benign)
	ew.writeStatus(w, r, status, e)
}

func (ew *errorWriter) log(r *http.Request, status int, e *apperr.Error, benign bool) {
	fields := []zap.Field{
		zap.String("request_id", audit.RequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", e.Code()),
		zap.Error(e),
	}
	switch {
	case benign:
		ew.logger.Warn("request failed", fields...)
	case status >= http.StatusInternalServerError:
		ew.logger.Error("request failed", fields...)
	default:
		ew.logger.Debug("request rejected", fields...)
	}
}

func (ew *errorWriter) writeStatus(w http.ResponseWriter, r *http.Request, status int, e *apperr.Error) {
	lang := r.Header.Get("Accept-Language")
	body := errorResponse{Message: e.Message}
	if status >= http.StatusInternalServerError && ew.local {
		body.Message = e.Error()
	}
	if msg, ok := ew.translator.Translate(lang, e.Key, e.Data); ok {
		body.Translated = &msg
	}
	if code := e.Code(); code != "" {
		body.Code = &code
	}
	for _, fe := range e.Fields {
		body.Errors = append(body.Errors, fieldError{
			Field:   fe.Field,
			Rule:    fe.Rule,
			Message: ew.fieldMessage(lang, fe),
		})
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", bearerChallenge(e))
	}
	if e.Kind == apperr.KindForbidden {
		w.Header().Set("WWW-Authenticate", `Bearer realm="matchbase", error="insufficient_scope"`)
	}
	writeJSON(w, status, body)
}

func (ew *errorWriter) fieldMessage(lang string, fe apperr.FieldError) string {
	data := map[string]any{"Field": fe.Field, "Param": fe.Param}
	if msg, ok := ew.translator.Translate(lang, "validation."+fe.Rule, data); ok {
		return msg
	}
	if fe.Message != "" {
		return fe.Message
	}
	msg, _ := ew.translator.Translate(lang, "validation.default", data)
	return msg
}

func bearerChallenge(e *apperr.Error) string {
	switch {
	case errors.Is(e, session.ErrExpiredToken):
		return `Bearer realm="matchbase", error="invalid_token", error_description="token expired"`
	case errors.Is(e, session.ErrInvalidToken):
		return `Bearer realm="matchbase", error="invalid_token"`
	default:
		return `Bearer realm="matchbase"`
	}
}

// decodeJSON reads exactly one JSON document into dst. Unknown fields are
// rejected, which is what keeps server-owned fields such as is_public out
// of client payloads.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return ErrUnsupportedMedia.With("ContentType", ct)
		}
	}
	reader := http.MaxBytesReader(w, r.Body, maxBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge.Wrapf(err)
		}
		if errors.Is(err, io.EOF) {
			return ErrInvalidBody.Wrapf(errors.New("request body is required"))
		}
		return ErrInvalidBody.Wrapf(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after JSON body")
		}
		return ErrInvalidBody.Wrapf(err)
	}
	return nil
}

func parsePositiveInt(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min || val > max {
		return 0, ErrInvalidQuery.With("Param", name)
	}
	return val, nil
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/egglogu/billing/pkg/binder"
	"github.com/egglogu/billing/pkg/logger"
)

// ErrorMapper translates a domain error into an HTTPError. It reports false
// for errors it does not recognize.
type ErrorMapper func(err error) (HTTPError, bool)

// MapError runs err through mappers and returns the first match, or err
// itself when nothing matched. Binding errors are always recognized.
func MapError(err error, mappers ...ErrorMapper) error {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	for _, m := range mappers {
		if he, ok := m(err); ok {
			return he
		}
	}
	if he, ok := bindingError(err); ok {
		return he
	}
	return err
}

func bindingError(err error) (HTTPError, bool) {
	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return ErrUnsupportedMediaType, true
	case errors.Is(err, binder.ErrBodyTooLarge):
		return ErrRequestTooLarge, true
	case errors.Is(err, binder.ErrFailedToParseJSON):
		return NewHTTPError(http.StatusBadRequest, "invalid_json"), true
	}
	return HTTPError{}, false
}

// NewErrorHandler returns an ErrorHandler that maps err, logs it (warn for
// client errors, error for server errors) and renders the JSON envelope.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("http"))

	return func(ctx Context, err error) {
		mapped := MapError(err, mappers...)
		status, detail := ErrorDetailFor(mapped)

		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		r := ctx.Request()
		log.LogAttrs(ctx, level, "request failed",
			logger.Error(err),
			slog.Int("status", status),
			slog.String("code", detail.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if rerr := JSONError(mapped).Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(ctx, "failed to render error response", logger.Error(rerr))
		}
	}
}

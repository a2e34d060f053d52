package auth

import (
	"net/http"
	"strings"
)

// TokenExtractorFunc extracts a token from an HTTP request.
type TokenExtractorFunc func(r *http.Request) (string, error)

// ErrorHandler renders an authentication or authorization failure.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, status int, err error)

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, status int, _ error) {
	http.Error(w, http.StatusText(status), status)
}

type middlewareOptions struct {
	extractor TokenExtractorFunc
	onError   ErrorHandler
}

type MiddlewareOption func(*middlewareOptions)

func WithExtractor(fn TokenExtractorFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.extractor = fn
		}
	}
}

func WithErrorHandler(fn ErrorHandler) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.onError = fn
		}
	}
}

func newOptions(opts []MiddlewareOption) middlewareOptions {
	o := middlewareOptions{extractor: BearerTokenExtractor, onError: defaultErrorHandler}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Middleware rejects requests without a valid access token with 401 and
// stores the claims in the request context otherwise.
func Middleware(v *Verifier, opts ...MiddlewareOption) func(next http.Handler) http.Handler {
	o := newOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := o.extractor(r)
			if err != nil {
				o.onError(w, r, http.StatusUnauthorized, err)
				return
			}

			claims, err := v.Verify(tokenString)
			if err != nil {
				o.onError(w, r, http.StatusUnauthorized, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireOrganization answers 403 unless the token names an organization.
func RequireOrganization(opts ...MiddlewareOption) func(next http.Handler) http.Handler {
	o := newOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				o.onError(w, r, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			if _, ok := claims.OrganizationID(); !ok {
				o.onError(w, r, http.StatusForbidden, ErrNoOrganization)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperadmin answers 403 unless the caller is a platform superadmin.
func RequireSuperadmin(opts ...MiddlewareOption) func(next http.Handler) http.Handler {
	o := newOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				o.onError(w, r, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			if !claims.IsSuperadmin() {
				o.onError(w, r, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerTokenExtractor extracts tokens from "Authorization: Bearer <token>".
func BearerTokenExtractor(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// CookieTokenExtractor reads the token from a cookie.
func CookieTokenExtractor(cookieName string) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			return "", ErrMissingToken
		}
		return cookie.Value, nil
	}
}

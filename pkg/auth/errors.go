package auth

import "errors"

var (
	ErrMissingSigningKey = errors.New("auth: missing signing key")
	ErrMissingToken      = errors.New("auth: missing bearer token")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrWrongTokenType    = errors.New("auth: not an access token")
	ErrNoOrganization    = errors.New("auth: token has no organization")
	ErrForbidden         = errors.New("auth: insufficient role")
)

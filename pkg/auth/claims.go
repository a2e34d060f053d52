package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles with special meaning for billing.
const (
	RoleOwner      = "owner"
	RoleSuperadmin = "superadmin"
)

const accessTokenType = "access"

// Claims is the payload of an access token.
type Claims struct {
	Organization string `json:"org,omitempty"`
	Role         string `json:"role"`
	Type         string `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// OrganizationID parses the organization claim. Superadmins may have none.
func (c *Claims) OrganizationID() (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Organization)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Claims) IsSuperadmin() bool {
	return c.Role == RoleSuperadmin
}

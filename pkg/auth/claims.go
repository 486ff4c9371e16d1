package auth

import (
	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ActorID string
	Role    enums.ActorRole
	OwnerID *uuid.UUID
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented to the API.
type AccessTokenClaims struct {
	Role    enums.ActorRole `json:"role"`
	OwnerID *uuid.UUID      `json:"owner_id,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessOwner reports whether the bearer may act on the given owner.
func (c *AccessTokenClaims) CanAccessOwner(ownerID uuid.UUID) bool {
	if c == nil {
		return false
	}
	if c.Role == enums.ActorRoleOperator {
		return true
	}
	return c.Role == enums.ActorRoleOwner && c.OwnerID != nil && *c.OwnerID == ownerID
}

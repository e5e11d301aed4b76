package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. A photographer may also buy photos, but the role on the
// token decides which console endpoints are reachable.
const (
	RoleBuyer        = "buyer"
	RolePhotographer = "photographer"
	RoleAdmin        = "admin"
	// RoleSystem is carried only by the service token of the payment
	// callback; it can open escrow entries and nothing else.
	RoleSystem = "system"
)

// SystemAccountID is the principal of the payment-settled hook and the
// recipient of admin notifications.
var SystemAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidRole reports whether role may be self-registered.
func ValidRole(role string) bool {
	return role == RoleBuyer || role == RolePhotographer
}

package models

// Role values for rights rows. Rights gate server-mediated operations
// (deletion, revocation, overwrite) only; they cannot gate decryption,
// which the server is unable to perform.
const (
	RoleOwner = "owner"
	RoleWrite = "write"
	RoleRead  = "read"
)

// Right grants a user a role on a node.
type Right struct {
	UserName string
	NodeID   string
	Role     string
}

// Allows reports whether the role covers the requested role, with
// owner ⊃ write ⊃ read.
func (r *Right) Allows(role string) bool {
	switch r.Role {
	case RoleOwner:
		return true
	case RoleWrite:
		return role != RoleOwner
	case RoleRead:
		return role == RoleRead
	default:
		return false
	}
}

package domain

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// IsValidRole reports whether the given role is one the service recognizes.
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// Package roles holds the fixed role enumeration shared by the gateway and the
// identity service.
package roles

const (
	User  = "USER"
	Admin = "ADMIN"
)

func Valid(role string) bool {
	return role == User || role == Admin
}

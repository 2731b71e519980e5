package domain

// Role represents the authorization level of an authenticated caller.
type Role string

// Roles, lowest to highest.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var roleLevels = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// HasPermission checks if the role grants at least minRole.
func (r Role) HasPermission(minRole Role) bool {
	return roleLevels[r] >= roleLevels[minRole] && roleLevels[r] > 0
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

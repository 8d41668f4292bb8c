package auth

// Role is the access level carried in a token. Roles are ordered: an
// operator can do everything a viewer can, an admin everything an
// operator can.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleOrder = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole maps a token's role claim onto a known role.
func ParseRole(value string) (Role, bool) {
	role := Role(value)
	_, known := roleOrder[role]
	return role, known
}

// RoleAtLeast reports whether role meets or exceeds required in the
// viewer < operator < admin ordering. Unknown roles satisfy nothing.
func RoleAtLeast(role, required Role) bool {
	return roleOrder[role] >= roleOrder[required] && roleOrder[role] > 0
}

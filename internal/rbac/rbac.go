package rbac

type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

// level orders roles so call sites compare with AtLeast instead of
// repeating string comparisons.
func level(role Role) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether role grants everything threshold grants.
func AtLeast(role, threshold Role) bool {
	return level(role) >= level(threshold)
}

func Valid(role string) bool {
	return level(Role(role)) > 0
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleMember
}

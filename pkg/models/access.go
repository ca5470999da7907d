package models

// Role is the role of an interactive user within its tenant.
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Permission is an action-category grant on an API key.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	// PermissionAdmin subsumes every other permission and every scope.
	PermissionAdmin Permission = "admin"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

// Scope is a resource-category grant on an API key.
type Scope string

const (
	ScopeUsers         Scope = "users"
	ScopeProjects      Scope = "projects"
	ScopeOrganizations Scope = "organizations"
	ScopeAudit         Scope = "audit"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeUsers, ScopeProjects, ScopeOrganizations, ScopeAudit:
		return true
	}
	return false
}

package catalog

import "fmt"

// Role is the kind of participation a person has in a work.
type Role string

const (
	RoleActor        Role = "actor"
	RoleDirector     Role = "director"
	RoleScriptwriter Role = "scriptwriter"
)

// ParseRole maps a stored role value to a Role. Values outside the fixed
// set are rejected; callers report them as data-integrity problems.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleActor, RoleDirector, RoleScriptwriter:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// String returns the stored role value.
func (r Role) String() string {
	return string(r)
}

// ListField returns the WorkDocument list the role's names belong to:
// actors, directors or writers.
func (r Role) ListField() string {
	switch r {
	case RoleActor:
		return "actors"
	case RoleDirector:
		return "directors"
	case RoleScriptwriter:
		return "writers"
	default:
		return ""
	}
}

package models

import "fmt"

type Role int

const (
	RolePatient Role = iota + 1
	RoleStaff
)

func (r Role) String() string {
	switch r {
	case RolePatient:
		return "patient"
	case RoleStaff:
		return "staff"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func ParseRole(value string) (Role, error) {
	switch value {
	case "patient":
		return RolePatient, nil
	case "staff":
		return RoleStaff, nil
	default:
		return 0, fmt.Errorf("unknown role %q", value)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Actor is an already-authenticated caller. ClinicID is only meaningful for staff.
type Actor struct {
	ID       string
	Role     Role
	ClinicID string
}

package domain

import "fmt"

// Role is fixed for the lifetime of a peer session. Changing it means joining again.
type Role string

const (
	RoleOrganizer   Role = "organizer"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOrganizer, RoleParticipant, RoleViewer:
		return r, nil
	case "":
		return RoleParticipant, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// CanSend reports whether the role is offered a send transport.
func (r Role) CanSend() bool {
	return r == RoleOrganizer || r == RoleParticipant
}

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User *User
	Role Role
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, role Role) *Member {
	return &Member{User: user, Role: role}
}

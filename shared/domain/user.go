package domain

type Role string

const (
	RoleGuardian Role = "guardian"
	RoleChild    Role = "child"
	RoleStaff    Role = "staff"
)

type User struct {
	Id          UserId
	DisplayName string
	Email       string
	Role        Role
	ScopeId     ScopeId
}

// Enrollment is a child's relationship record with a facility.
type Enrollment struct {
	ChildId    UserId
	FacilityId FacilityId
	Active     bool
}

type Guardianship struct {
	GuardianId  UserId
	ChildId     UserId
	Responsible bool
}

// Recipient is an addressable target for a new conversation.
type Recipient struct {
	Id          UserId `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

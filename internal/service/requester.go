package service

import (
	"strings"

	"github.com/noah-isme/readmaster-api/internal/models"
)

// Roles recognised in access token claims.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleParent  = "parent"
	RoleAdmin   = "admin"
)

// Requester identifies the authenticated caller of an operation.
type Requester struct {
	UserID string
	Role   string
}

func (r Requester) role() string {
	return strings.ToLower(strings.TrimSpace(r.Role))
}

// IsStaff reports whether the requester sees every assessment.
func (r Requester) IsStaff() bool {
	role := r.role()
	return role == RoleTeacher || role == RoleAdmin
}

// owns reports whether the requester is the student being assessed.
func (r Requester) owns(a models.Assessment) bool {
	return r.UserID != "" && a.StudentID == r.UserID
}

func (r Requester) canView(a models.Assessment) bool {
	if r.owns(a) || r.IsStaff() {
		return true
	}
	return a.AssignedByID != nil && *a.AssignedByID == r.UserID
}

package portal

import (
	"strings"
	"time"
)

// Role is the access level carried by a credential.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleEditor  Role = "EDITOR"
	RoleVisitor Role = "VISITOR"
)

// Roles returns every known role, least privileged first.
func Roles() []Role {
	return []Role{RoleVisitor, RoleEditor, RoleAdmin}
}

// Rank orders roles by privilege. The empty role and unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleVisitor:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r.Rank() > 0 }

// UnmarshalText normalizes known aliases and keeps unknown values as sent.
func (r *Role) UnmarshalText(b []byte) error {
	if parsed, ok := ParseRole(string(b)); ok {
		*r = parsed
		return nil
	}
	*r = Role(b)
	return nil
}

// ParseRole maps a claim value to a Role. The backend historically issues
// "VISITANTE" for read-only accounts; it is accepted as RoleVisitor.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return RoleAdmin, true
	case "EDITOR":
		return RoleEditor, true
	case "VISITOR", "VISITANTE":
		return RoleVisitor, true
	default:
		return "", false
	}
}

// Claims is the decoded payload of a credential.
type Claims struct {
	SubjectID string
	Username  string
	Role      Role
}

// Identity is the session-derived view of who is using the portal.
// It is a value; holders keep a consistent snapshot.
type Identity struct {
	UserID          string
	Username        string
	Role            Role
	IsAuthenticated bool
	IsLoading       bool
}

// Persisted keys. SessionKeys is the complete set purged on logout.
const (
	KeyCredential = "token"
	KeyStudentID  = "studentId"
)

// SessionKeys lists every session-scoped persisted key.
var SessionKeys = []string{KeyCredential, KeyStudentID}

// LoginResult is the backend's answer to POST /auth/login.
type LoginResult struct {
	Token     string `json:"token"`
	StudentID string `json:"studentId,omitempty"`
}

// AuditAction is the kind of change an audit entry records.
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
	AuditRevert AuditAction = "REVERT"
)

// AuditEntry is an immutable record of a change to a backend document.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     AuditAction    `json:"action"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId"`
	ChangedBy  string         `json:"changedBy"`
	ChangedAt  time.Time      `json:"changedAt"`
	BeforeData map[string]any `json:"beforeData,omitempty"`
	AfterData  map[string]any `json:"afterData,omitempty"`
	Changes    []string       `json:"changes"`
}

// AuditStats are display-only aggregate counts.
type AuditStats struct {
	TotalLogs           int `json:"totalLogs"`
	DistinctUsers       int `json:"distinctUsers"`
	DistinctCollections int `json:"distinctCollections"`
}

// RevertRequest restores one field of one document to a recorded value.
type RevertRequest struct {
	Collection    string `json:"collection"`
	DocumentID    string `json:"documentId"`
	FieldName     string `json:"fieldName"`
	PreviousValue any    `json:"previousValue"`
}

// User is an account managed through user administration.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

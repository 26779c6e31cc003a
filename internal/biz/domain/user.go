package domain

import "time"

// Role is a user role id
type Role string

const (
	RoleOwner     Role = "OWNER"
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleUser      Role = "USER"
)

// User represents a stored user
type User struct {
	ID          int64
	Name        string
	FullName    string
	UserRoleID  Role
	IsBot       bool
	RawData     string
	RawDataHash string
	InsertDate  time.Time
	UpdateDate  time.Time
}

// SetRawData replaces the raw payload and recomputes its hash
func (u *User) SetRawData(raw string) {
	u.RawData = raw
	u.RawDataHash = HashRawData(raw)
}

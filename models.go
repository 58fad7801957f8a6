package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserType is the user's account type
type UserType = string

const (
	// TypeCommunity is a regular community member
	TypeCommunity UserType = "community"
	// TypeStaff is a staff member
	TypeStaff UserType = "staff"
)

// ValidUserType checks the type against the known set
func ValidUserType(t UserType) bool {
	switch t {
	case TypeCommunity, TypeStaff:
		return true
	default:
		return false
	}
}

// User is the account model. Username and email carry unique constraints so
// two concurrent registrations for the same identity resolve at the database.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserType       UserType   `bun:"user_type,notnull" json:"user_type,omitempty"`
	FirstName      string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone_number,omitempty"`
	Bio            string     `bun:"bio" json:"bio,omitempty"`
	ProfilePicture string     `bun:"profile_picture" json:"profile_picture,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"password_hash,omitempty"`
	EmailVerified  bool       `bun:"email_verified" json:"email_verified,omitempty"`
	IsActive       bool       `bun:"is_active" json:"is_active,omitempty"`
	ResetedAt      *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// FullName returns first plus last name, falling back to the username
func (u *User) FullName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full == "" {
		return u.Username
	}
	return full
}

// MarkEmailVerified flips the verification flag. The transition is one-way,
// a verified user never reverts.
func (u *User) MarkEmailVerified() *User {
	u.EmailVerified = true
	return u
}

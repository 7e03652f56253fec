package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserNameMaxLength is the width of users.name in characters.
const UserNameMaxLength = 150

const (
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	Name            string           `gorm:"type:varchar(150)" json:"name" validate:"required,min=1,max=150"`
	Email           string           `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	Password        string           `gorm:"type:text" json:"-" validate:"required"`
	Status          string           `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	EmailVerifiedAt *time.Time       `gorm:"type:timestamp;default:null" json:"email_verified_at,omitempty"`
	Capabilities    []UserCapability `gorm:"foreignKey:UserID" json:"-"`
	LastLoginAt     *time.Time       `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewVerifiedUser builds an active user whose email counts as verified, with
// the given plaintext password hashed.
func NewVerifiedUser(name, email, password string, verifiedAt time.Time) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:            strings.TrimSpace(name),
		Email:           strings.ToLower(strings.TrimSpace(email)),
		Password:        pw,
		Status:          STATUS_ACTIVE,
		EmailVerifiedAt: &verifiedAt,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// IsVerified reports whether the user's email has been verified
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// CapabilitySet returns the capabilities loaded on the user.
func (u *User) CapabilitySet() CapabilitySet {
	set := make(CapabilitySet, len(u.Capabilities))
	for _, c := range u.Capabilities {
		set[c.Capability] = struct{}{}
	}
	return set
}

// Can reports whether the user holds the capability. Capabilities must be
// preloaded.
func (u *User) Can(c Capability) bool {
	return u.CapabilitySet().Has(c)
}

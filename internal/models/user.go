package models

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

// DefaultDisplayName is shown when neither the profile nor the identity has a
// display name.
const DefaultDisplayName = "Anonymous"

// Profile mirrors an identity in the document store, keyed by the identity UID.
// Followers and Following are sets that only change through set-add and
// set-remove.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatarUrl"`
	Website     string    `json:"website"`
	Instagram   string    `json:"instagram"`
	Facebook    string    `json:"facebook"`
	Twitter     string    `json:"twitter"`
	JoinedAt    time.Time `json:"joinedAt"`
	Followers   []string  `json:"followers"`
	Following   []string  `json:"following"`
	// Exists is false when no profile document was found and the fields are
	// defaults.
	Exists bool `json:"exists"`
}

// AsAuthor returns the denormalized author snapshot of p.
func (p *Profile) AsAuthor() Author {
	return Author{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

// FallbackDisplayName picks the display name for a profile that has none: the
// given name, the email local-part, or "Anonymous".
func FallbackDisplayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return DefaultDisplayName
}

// DefaultProfile is the view returned for a UID without a profile document.
func DefaultProfile(uid, name, email string) *Profile {
	return &Profile{
		ID:          uid,
		DisplayName: FallbackDisplayName(name, email),
		Email:       email,
		Followers:   []string{},
		Following:   []string{},
		Exists:      false,
	}
}

// NewProfile is the profile written at sign-up.
func NewProfile(uid, name, email string, joinedAt time.Time) *Profile {
	p := DefaultProfile(uid, name, email)
	p.JoinedAt = joinedAt
	p.Exists = true
	return p
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string `json:"displayName,omitempty" validate:"omitempty,min=1,max=60"`
	Bio         *string `json:"bio,omitempty" validate:"omitempty,max=500"`
	AvatarURL   *string `json:"avatarUrl,omitempty" validate:"omitempty,url"`
	Website     *string `json:"website,omitempty" validate:"omitempty,max=300"`
	Instagram   *string `json:"instagram,omitempty" validate:"omitempty,max=100"`
	Facebook    *string `json:"facebook,omitempty" validate:"omitempty,max=100"`
	Twitter     *string `json:"twitter,omitempty" validate:"omitempty,max=100"`
}

// Fields returns the set fields keyed by their document field name.
func (p ProfilePatch) Fields() map[string]interface{} {
	fields := map[string]interface{}{}
	set := func(key string, v *string) {
		if v != nil {
			fields[key] = *v
		}
	}
	set("displayName", p.DisplayName)
	set("bio", p.Bio)
	set("avatarUrl", p.AvatarURL)
	set("website", p.Website)
	set("instagram", p.Instagram)
	set("facebook", p.Facebook)
	set("twitter", p.Twitter)
	return fields
}

// Apply copies the set fields onto profile.
func (p ProfilePatch) Apply(profile *Profile) {
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&profile.DisplayName, p.DisplayName)
	apply(&profile.Bio, p.Bio)
	apply(&profile.AvatarURL, p.AvatarURL)
	apply(&profile.Website, p.Website)
	apply(&profile.Instagram, p.Instagram)
	apply(&profile.Facebook, p.Facebook)
	apply(&profile.Twitter, p.Twitter)
}

// LocalUser is an identity held by the local provider (relational database).
type LocalUser struct {
	gorm.Model
	UID            string     `json:"uid" gorm:"uniqueIndex;size:64"`
	Email          string     `json:"email" gorm:"uniqueIndex"`
	DisplayName    string     `json:"displayName"`
	Password       string     `json:"-"` // bcrypt hash
	Disabled       bool       `json:"disabled"`
	ResetTokenHash string     `json:"-" gorm:"index"`
	ResetExpiresAt *time.Time `json:"-"`
}

// SignUpRequest defines the request body for POST /auth/signup
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Username string `json:"username" validate:"required,min=2,max=60"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ConfirmPasswordResetRequest struct {
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

// JwtCustomClaims are the claims of a locally issued session token.
type JwtCustomClaims struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

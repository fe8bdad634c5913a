package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the clinic role of an authenticated user, encoded on the wire with
// the backend's one letter codes.
type Role string

const (
	RoleAdmin   Role = "A"
	RoleDoctor  Role = "D"
	RoleNurse   Role = "N"
	RolePatient Role = "P"
)

var roleNames = map[Role]string{
	RoleAdmin:   "ADMIN",
	RoleDoctor:  "DOCTOR",
	RoleNurse:   "NURSE",
	RolePatient: "PATIENT",
}

// ParseRole accepts either the wire code or the role name, case-insensitively.
func ParseRole(raw string) (Role, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	for role, name := range roleNames {
		if value == string(role) || value == name {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// String returns the role name, e.g. PATIENT.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return string(r)
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*r = ""
		return nil
	}
	role, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// TokenPair holds the bearer credentials issued by the backend.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// ID is a backend identifier. The backend sends numbers, strings or null.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*id = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid id %s", raw)
		}
		*id = ID(n.String())
	}
	return nil
}

// User is the authenticated user snapshot.
type User struct {
	ID        ID     `json:"id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ProfileID ID     `json:"profile_id,omitempty"`
	Role      Role   `json:"role"`
}

// Clone returns a copy so callers never share the manager's snapshot.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// TokenLifetime is the backend's configured access token lifetime.
type TokenLifetime struct {
	AccessTokenLifetimeSeconds int `json:"access_token_lifetime_seconds"`
}

// Duration converts the lifetime to a time.Duration.
func (l TokenLifetime) Duration() time.Duration {
	return time.Duration(l.AccessTokenLifetimeSeconds) * time.Second
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned by the backend login endpoint.
type LoginResponse struct {
	Tokens TokenPair `json:"tokens"`
	User   User      `json:"user"`
}

// Address is part of the registration payload.
type Address struct {
	ApartmentNumber string `json:"apartment_number"`
	City            string `json:"city" validate:"required"`
	Country         string `json:"country" validate:"required"`
	HouseNumber     string `json:"house_number" validate:"required"`
	PostCode        string `json:"post_code" validate:"required"`
	Street          string `json:"street" validate:"required"`
}

// RegisterRequest creates a patient account.
type RegisterRequest struct {
	Address           Address `json:"address"`
	Email             string  `json:"email" validate:"required,email,min=7,max=255"`
	FirstName         string  `json:"first_name" validate:"required"`
	LastName          string  `json:"last_name" validate:"required"`
	Password          string  `json:"password" validate:"required,min=8"`
	PasswordConfirm   string  `json:"password_confirm" validate:"required,eqfield=Password"`
	Pesel             string  `json:"pesel" validate:"required,len=11,numeric"`
	PhoneNumber       string  `json:"phone_number" validate:"required,min=7,max=15"`
	RecaptchaResponse string  `json:"recaptcha_response" validate:"required"`
}

// VerificationParams identify an emailed verification or reset link.
type VerificationParams struct {
	UID   string `json:"uidb64" validate:"required"`
	Token string `json:"token" validate:"required"`
}

// ResetPasswordRequest starts the password reset flow.
type ResetPasswordRequest struct {
	Email             string `json:"email" validate:"required,email"`
	RecaptchaResponse string `json:"recaptcha_response" validate:"required"`
}

// ResetPasswordConfirmRequest sets a new password from a reset link.
type ResetPasswordConfirmRequest struct {
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// ChangePasswordRequest changes the password of the logged in user.
type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password" validate:"required,min=8"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// Config drives session behavior.
type Config struct {
	// ExpiryBuffer is how close to expiry a request triggers a proactive refresh.
	ExpiryBuffer time.Duration
	// ExpiredFireDelay delays the expiry callback when the token is already expired.
	ExpiredFireDelay time.Duration
	// ClearOnLogoutFailure clears local state even when the logout call fails.
	ClearOnLogoutFailure bool
	// CallTimeout bounds calls made from timer callbacks, which have no caller context.
	CallTimeout time.Duration
}

// HomeRoute is where the session navigates after login and logout.
const HomeRoute = "/"

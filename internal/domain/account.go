package domain

import "time"

// AccountStatus representa la etapa del ciclo de vida de una cuenta.
type AccountStatus string

const (
	StatusPendingVerification AccountStatus = "PENDING_VERIFICATION"
	StatusActive              AccountStatus = "ACTIVE"
	StatusSuspended           AccountStatus = "SUSPENDED"
)

// Valid indica si el status pertenece al conjunto conocido.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// Role es el rol de aplicacion que viaja como claim en el JWT.
type Role string

const (
	RoleApplicant Role = "APPLICANT"
)

// UserAccount es el registro de credenciales de un usuario.
type UserAccount struct {
	ID                         int64         `json:"id"`
	EmailAddress               string        `json:"emailAddress"`
	PasswordHash               string        `json:"-"`
	AccountStatus              AccountStatus `json:"accountStatus"`
	Role                       Role          `json:"role"`
	VerificationToken          string        `json:"-"`
	VerificationTokenExpiresAt *time.Time    `json:"-"`
	CreatedAt                  time.Time     `json:"createdAt"`
	UpdatedAt                  time.Time     `json:"updatedAt"`
}

// VerificationExpired reporta si el token de verificacion ya vencio en now.
// Una cuenta sin fecha de expiracion se considera vencida.
func (a UserAccount) VerificationExpired(now time.Time) bool {
	if a.VerificationTokenExpiresAt == nil {
		return true
	}
	return now.After(*a.VerificationTokenExpiresAt)
}

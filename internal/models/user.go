package models

import (
	"time"

	"github.com/google/uuid"
)

// Role — роль пользователя, зашивается в access-токен.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// VerificationPurpose — назначение одноразового токена в поле верификации.
// Одно поле обслуживает и подтверждение e-mail, и сброс пароля.
type VerificationPurpose string

const (
	PurposeVerifyEmail   VerificationPurpose = "verify_email"
	PurposeResetPassword VerificationPurpose = "reset_password"
)

// User — учётная запись пользователя.
//
// Описание:
//   - Email хранится в нижнем регистре и уникален без учёта регистра;
//   - PasswordHash — дайджест bcrypt или argon2id, открытый пароль нигде не хранится;
//   - VerificationTokenHash — sha256(base64url) одноразового токена,
//     пустая строка означает отсутствие токена;
//   - IsVerified переходит false -> true только один раз.
type User struct {
	ID                    uuid.UUID
	Name                  string
	Email                 string
	PasswordHash          string
	Address               string
	Role                  Role
	IsActive              bool
	IsVerified            bool
	VerificationTokenHash string
	VerificationPurpose   VerificationPurpose
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RegisterInput — данные профиля при регистрации.
type RegisterInput struct {
	Name     string
	Email    string `validate:"required,email"`
	Password string `validate:"required,password"`
	Address  string
}

// Profile — пользователь вместе с его подписками.
type Profile struct {
	User          User
	Subscriptions []Subscription
}

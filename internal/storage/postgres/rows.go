package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/pribylovaa/go-billing-auth/internal/models"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                    uuid.UUID  `bun:"id,pk,type:uuid"`
	Name                  string     `bun:"name"`
	Email                 string     `bun:"email"`
	PasswordHash          string     `bun:"password_hash"`
	Address               string     `bun:"address"`
	Role                  string     `bun:"role"`
	IsActive              bool       `bun:"is_active"`
	IsVerified            bool       `bun:"is_verified"`
	VerificationTokenHash *string    `bun:"verification_token_hash"`
	VerificationPurpose   *string    `bun:"verification_purpose"`
	VerificationExpiresAt *time.Time `bun:"verification_expires_at"`
	CreatedAt             time.Time  `bun:"created_at"`
	UpdatedAt             time.Time  `bun:"updated_at"`
}

func newUserRow(u *models.User) *userRow {
	row := &userRow{
		ID:                    u.ID,
		Name:                  u.Name,
		Email:                 u.Email,
		PasswordHash:          u.PasswordHash,
		Address:               u.Address,
		Role:                  string(u.Role),
		IsActive:              u.IsActive,
		IsVerified:            u.IsVerified,
		VerificationExpiresAt: u.VerificationExpiresAt,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	}

	if u.VerificationTokenHash != "" {
		hash := u.VerificationTokenHash
		purpose := string(u.VerificationPurpose)
		row.VerificationTokenHash = &hash
		row.VerificationPurpose = &purpose
	}

	return row
}

func (r *userRow) model() *models.User {
	u := &models.User{
		ID:                    r.ID,
		Name:                  r.Name,
		Email:                 r.Email,
		PasswordHash:          r.PasswordHash,
		Address:               r.Address,
		Role:                  models.Role(r.Role),
		IsActive:              r.IsActive,
		IsVerified:            r.IsVerified,
		VerificationExpiresAt: r.VerificationExpiresAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}

	if r.VerificationTokenHash != nil {
		u.VerificationTokenHash = *r.VerificationTokenHash
	}
	if r.VerificationPurpose != nil {
		u.VerificationPurpose = models.VerificationPurpose(*r.VerificationPurpose)
	}

	return u
}

type planRow struct {
	bun.BaseModel `bun:"table:plans,alias:p"`

	Name         string `bun:"name,pk"`
	PriceCents   int64  `bun:"price_cents"`
	IntervalDays int    `bun:"interval_days"`
}

type subscriptionRow struct {
	bun.BaseModel `bun:"table:subscriptions,alias:s"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	UserID    uuid.UUID `bun:"user_id,type:uuid"`
	Plan      string    `bun:"plan"`
	Status    string    `bun:"status"`
	StartDate time.Time `bun:"start_date"`
	EndDate   time.Time `bun:"end_date"`
}

func (r *subscriptionRow) model() models.Subscription {
	return models.Subscription{
		ID:        r.ID,
		UserID:    r.UserID,
		Plan:      r.Plan,
		Status:    models.SubscriptionStatus(r.Status),
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
	}
}

type refreshTokenRow struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	JTI       uuid.UUID `bun:"jti,pk,type:uuid"`
	UserID    uuid.UUID `bun:"user_id,type:uuid"`
	IssuedAt  time.Time `bun:"issued_at"`
	ExpiresAt time.Time `bun:"expires_at"`
	Revoked   bool      `bun:"revoked"`
}

func (r *refreshTokenRow) model() *models.RefreshToken {
	return &models.RefreshToken{
		JTI:       r.JTI,
		UserID:    r.UserID,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
		Revoked:   r.Revoked,
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/models"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
)

// SaveUser создает нового пользователя в БД.
func (r *repos) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	if _, err := r.db.NewInsert().Model(newUserRow(user)).Exec(ctx); err != nil {
		return mapErr(op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email.
func (r *repos) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	return r.userWhere(ctx, op, "email = ?", email)
}

// UserByID находит пользователя по ID.
func (r *repos) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	return r.userWhere(ctx, op, "id = ?", id)
}

// UserByVerificationToken находит пользователя по хэшу токена верификации.
func (r *repos) UserByVerificationToken(ctx context.Context, hash string) (*models.User, error) {
	const op = "storage.postgres.UserByVerificationToken"

	return r.userWhere(ctx, op, "verification_token_hash = ?", hash)
}

func (r *repos) userWhere(ctx context.Context, op, where string, arg any) (*models.User, error) {
	row := new(userRow)
	err := r.db.NewSelect().
		Model(row).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}

	return row.model(), nil
}

// UpdatePassword заменяет дайджест пароля.
func (r *repos) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error {
	const op = "storage.postgres.UpdatePassword"

	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapErr(op, err)
	}

	return requireAffected(op, res)
}

// SetVerificationToken записывает новый токен верификации, затирая предыдущий.
func (r *repos) SetVerificationToken(ctx context.Context, id uuid.UUID, hash string, purpose models.VerificationPurpose, expiresAt time.Time) error {
	const op = "storage.postgres.SetVerificationToken"

	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("verification_token_hash = ?", hash).
		Set("verification_purpose = ?", string(purpose)).
		Set("verification_expires_at = ?", expiresAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapErr(op, err)
	}

	return requireAffected(op, res)
}

// ConsumeVerificationToken атомарно гасит действующий токен.
// Просроченный токен остаётся в записи: по нему можно найти владельца и выпустить новый.
func (r *repos) ConsumeVerificationToken(ctx context.Context, hash string, purpose models.VerificationPurpose, now time.Time) (*models.User, error) {
	const op = "storage.postgres.ConsumeVerificationToken"

	var rows []userRow
	_, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("verification_token_hash = NULL").
		Set("verification_purpose = NULL").
		Set("verification_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("verification_token_hash = ?", hash).
		Where("verification_purpose = ?", string(purpose)).
		Where("verification_expires_at > ?", now).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapErr(op, err)
	}

	if len(rows) == 1 {
		return rows[0].model(), nil
	}

	exists, err := r.db.NewSelect().
		Model((*userRow)(nil)).
		Where("verification_token_hash = ?", hash).
		Where("verification_purpose = ?", string(purpose)).
		Exists(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
}

// MarkVerified переводит пользователя в подтверждённые.
func (r *repos) MarkVerified(ctx context.Context, id uuid.UUID, now time.Time) error {
	const op = "storage.postgres.MarkVerified"

	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("is_verified = TRUE").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapErr(op, err)
	}

	return requireAffected(op, res)
}

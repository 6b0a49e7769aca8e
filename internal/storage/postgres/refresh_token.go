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

// SaveRefreshToken сохраняет новую запись реестра.
func (r *repos) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	row := &refreshTokenRow{
		JTI:       token.JTI,
		UserID:    token.UserID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
		Revoked:   token.Revoked,
	}

	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return mapErr(op, err)
	}

	return nil
}

// RefreshTokenByJTI находит запись по jti.
func (r *repos) RefreshTokenByJTI(ctx context.Context, jti uuid.UUID) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByJTI"

	row := new(refreshTokenRow)
	err := r.db.NewSelect().
		Model(row).
		Where("jti = ?", jti).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}

	return row.model(), nil
}

// ConsumeRefreshToken атомарно отзывает активную запись и возвращает её.
// Условный UPDATE сериализуется блокировкой строки: второй параллельный вызов
// перечитывает её после коммита первого и уже не проходит условие revoked = FALSE.
func (r *repos) ConsumeRefreshToken(ctx context.Context, jti uuid.UUID, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.ConsumeRefreshToken"

	var rows []refreshTokenRow
	_, err := r.db.NewUpdate().
		Model((*refreshTokenRow)(nil)).
		Set("revoked = TRUE").
		Where("jti = ?", jti).
		Where("revoked = FALSE").
		Where("expires_at > ?", now).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapErr(op, err)
	}

	if len(rows) == 1 {
		return rows[0].model(), nil
	}

	cur, err := r.RefreshTokenByJTI(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cur.Revoked {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrRevoked)
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
}

// RevokeRefreshTokenIfActive пытается отозвать refresh-токен, если он ещё не был отозван.
// Возвращает:
//
//	(true, nil)  — токен был активен и успешно отозван сейчас;
//	(false, nil) — токен существует, но уже был отозван;
//	(false, ErrNotFound) — токен не найден.
func (r *repos) RevokeRefreshTokenIfActive(ctx context.Context, jti uuid.UUID) (bool, error) {
	const op = "storage.postgres.RevokeRefreshTokenIfActive"

	res, err := r.db.NewUpdate().
		Model((*refreshTokenRow)(nil)).
		Set("revoked = TRUE").
		Where("jti = ?", jti).
		Where("revoked = FALSE").
		Exec(ctx)
	if err != nil {
		return false, mapErr(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := r.db.NewSelect().
		Model((*refreshTokenRow)(nil)).
		Where("jti = ?", jti).
		Exists(ctx)
	if err != nil {
		return false, mapErr(op, err)
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return false, nil
}

// RevokeAllUserTokens отзывает все неотозванные записи пользователя.
func (r *repos) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "storage.postgres.RevokeAllUserTokens"

	res, err := r.db.NewUpdate().
		Model((*refreshTokenRow)(nil)).
		Set("revoked = TRUE").
		Where("user_id = ?", userID).
		Where("revoked = FALSE").
		Exec(ctx)
	if err != nil {
		return 0, mapErr(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// LedgerStats считает записи реестра по состояниям.
func (r *repos) LedgerStats(ctx context.Context, now time.Time) (models.LedgerStats, error) {
	const op = "storage.postgres.LedgerStats"

	const query = `
		SELECT
			count(*) FILTER (WHERE NOT revoked AND expires_at > ?) AS active,
			count(*) FILTER (WHERE revoked) AS revoked,
			count(*) FILTER (WHERE NOT revoked AND expires_at <= ?) AS expired
		FROM refresh_tokens
	`

	var stats models.LedgerStats
	err := r.db.NewRaw(query, now, now).Scan(ctx, &stats.Active, &stats.Revoked, &stats.Expired)
	if err != nil {
		return models.LedgerStats{}, mapErr(op, err)
	}

	return stats, nil
}

func requireAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

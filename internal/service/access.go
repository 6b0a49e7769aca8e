package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/limiter"
	"github.com/pribylovaa/go-billing-auth/internal/models"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
	"github.com/pribylovaa/go-billing-auth/internal/token"
)

// Authenticate проверяет access-токен и возвращает его содержимое.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (claims *token.Claims, err error) {
	const op = "service.access.Authenticate"
	defer s.observe("authenticate", time.Now(), &err)

	claims, err = s.verifyAccess(ctx, accessToken, op)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// Authorize проверяет access-токен и требует точного совпадения роли.
// Пустая role означает любую роль.
func (s *Service) Authorize(ctx context.Context, accessToken string, role models.Role) (claims *token.Claims, err error) {
	const op = "service.access.Authorize"
	defer s.observe("authorize", time.Now(), &err)

	claims, err = s.verifyAccess(ctx, accessToken, op)
	if err != nil {
		return nil, err
	}

	if role != "" && claims.Role != role {
		log.From(ctx).Info("authorize_forbidden",
			slog.String("op", op),
			slog.String("user_id", claims.Subject.String()),
			slog.String("role", string(claims.Role)),
			slog.String("required", string(role)),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return claims, nil
}

func (s *Service) verifyAccess(ctx context.Context, accessToken, op string) (*token.Claims, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		log.From(ctx).Debug("access_token_rejected",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}

	if claims.Kind != token.KindAccess {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	return claims, nil
}

// VerifyEmail подтверждает e-mail по одноразовому токену.
// По просроченному токену владельцу отправляется новое письмо, а вызывающий получает ErrInvalidOrExpiredToken.
func (s *Service) VerifyEmail(ctx context.Context, verificationToken string) (err error) {
	const op = "service.access.VerifyEmail"
	defer s.observe("verify_email", time.Now(), &err)

	if verificationToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
	}

	lg := log.From(ctx)
	hash := hashToken(verificationToken)

	var userID uuid.UUID
	err = s.storage.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		now := s.now().UTC()

		user, err := r.ConsumeVerificationToken(ctx, hash, models.PurposeVerifyEmail, now)
		if err != nil {
			return err
		}
		userID = user.ID

		return r.MarkVerified(ctx, user.ID, now)
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
	case errors.Is(err, storage.ErrExpired):
		user, lookupErr := s.storage.UserByVerificationToken(ctx, hash)
		if lookupErr == nil && !user.IsVerified {
			s.resendVerification(ctx, user)
		}
		lg.Info("verify_email_expired", slog.String("op", op))
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
	default:
		return apperr.Internal(op, err)
	}

	lg.Info("verify_email_ok",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// GetUser возвращает профиль пользователя с подписками без секретов.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (profile *models.Profile, err error) {
	const op = "service.access.GetUser"
	defer s.observe("get_user", time.Now(), &err)

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, apperr.Internal(op, err)
	}

	subs, err := s.storage.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	user.PasswordHash = ""
	user.VerificationTokenHash = ""
	user.VerificationPurpose = ""
	user.VerificationExpiresAt = nil

	return &models.Profile{User: *user, Subscriptions: subs}, nil
}

// SeedPlans засевает стандартные тарифные планы. Повторный вызов ничего не меняет.
func (s *Service) SeedPlans(ctx context.Context) error {
	const op = "service.access.SeedPlans"

	if err := s.storage.SeedPlans(ctx, models.DefaultPlans()); err != nil {
		return apperr.Internal(op, err)
	}

	return nil
}

// LedgerStats возвращает срез реестра refresh-токенов и обновляет метрики.
func (s *Service) LedgerStats(ctx context.Context) (models.LedgerStats, error) {
	const op = "service.access.LedgerStats"

	stats, err := s.storage.LedgerStats(ctx, s.now().UTC())
	if err != nil {
		return models.LedgerStats{}, apperr.Internal(op, err)
	}

	s.metrics.SetLedger(stats)

	return stats, nil
}

// allow спрашивает ограничитель. Сбой ограничителя не блокирует операцию.
func (s *Service) allow(ctx context.Context, l limiter.Limiter, key, op string) bool {
	if l == nil {
		return true
	}

	ok, err := l.Allow(ctx, key)
	if err != nil {
		log.From(ctx).Warn("limiter_unavailable",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return true
	}

	return ok
}

func (s *Service) resetLimit(ctx context.Context, l limiter.Limiter, key, op string) {
	if l == nil {
		return
	}

	if err := l.Reset(ctx, key); err != nil {
		log.From(ctx).Warn("limiter_reset_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}

package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/models"
	"github.com/pribylovaa/go-billing-auth/internal/notify"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/redact"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
)

const oneTimeTokenSize = 32

// ForgotPassword отправляет письмо со ссылкой сброса пароля.
//
// Для неизвестного email возвращается nil: ответ не раскрывает наличие аккаунта.
// Неподтверждённый пользователь получает повторное письмо подтверждения и ErrNotVerified.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	const op = "service.password.ForgotPassword"
	defer s.observe("forgot_password", time.Now(), &err)

	lg := log.From(ctx)

	normEmail, err := normalizeEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !s.allow(ctx, s.forgotLimiter, normEmail, op) {
		lg.Warn("forgot_password_rate_limited",
			slog.String("op", op),
			slog.String("email", redact.Email(normEmail)),
		)
		return fmt.Errorf("%s: %w", op, ErrRateLimited)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("forgot_password_unknown_email",
				slog.String("op", op),
				slog.String("email", redact.Email(normEmail)),
			)
			return nil
		}
		return apperr.Internal(op, err)
	}

	if !user.IsVerified {
		s.resendVerification(ctx, user)
		return fmt.Errorf("%s: %w", op, ErrNotVerified)
	}

	if err := s.sendOneTimeToken(ctx, user, models.PurposeResetPassword); err != nil {
		return apperr.Internal(op, err)
	}

	lg.Info("forgot_password_sent",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// ResetPassword устанавливает новый пароль по токену сброса.
// Токен гасится, все refresh-токены пользователя отзываются в той же транзакции.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) (err error) {
	const op = "service.password.ResetPassword"
	defer s.observe("reset_password", time.Now(), &err)

	if resetToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
	}

	if err := s.validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(op, err)
	}

	var (
		userID  uuid.UUID
		revoked int64
	)
	err = s.storage.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		now := s.now().UTC()

		user, err := r.ConsumeVerificationToken(ctx, hashToken(resetToken), models.PurposeResetPassword, now)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
				return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
			}
			return err
		}
		userID = user.ID

		if err := r.UpdatePassword(ctx, user.ID, digest, now); err != nil {
			return err
		}

		revoked, err = r.RevokeAllUserTokens(ctx, user.ID)
		return err
	})
	if err != nil {
		return apperr.Internal(op, err)
	}

	log.From(ctx).Info("reset_password_ok",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", revoked),
	)

	return nil
}

// ChangePassword меняет пароль аутентифицированного пользователя.
// Выданные токены остаются в силе.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) (err error) {
	const op = "service.password.ChangePassword"
	defer s.observe("change_password", time.Now(), &err)

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
		}
		return apperr.Internal(op, err)
	}

	ok, err := s.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !ok {
		log.From(ctx).Info("change_password_mismatch",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
		)
		return fmt.Errorf("%s: %w", op, ErrInvalidOldPassword)
	}

	if err := s.validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal(op, err)
	}

	if err := s.storage.UpdatePassword(ctx, userID, digest, s.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
		}
		return apperr.Internal(op, err)
	}

	log.From(ctx).Info("change_password_ok",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// newOneTimeToken возвращает открытый токен для письма и его хэш для хранения.
func newOneTimeToken() (plain, hash string, err error) {
	buf := make([]byte, oneTimeTokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("one-time token: %w", err)
	}

	plain = base64.RawURLEncoding.EncodeToString(buf)
	return plain, hashToken(plain), nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// sendOneTimeToken выпускает новый одноразовый токен, сохраняет его хэш и ставит письмо в очередь.
// Место в очереди занимается до записи: без него токен не меняется.
func (s *Service) sendOneTimeToken(ctx context.Context, user *models.User, purpose models.VerificationPurpose) error {
	const op = "service.password.sendOneTimeToken"

	ttl, tmpl := s.cfg.VerificationTTL, notify.TemplateVerification
	if purpose == models.PurposeResetPassword {
		ttl, tmpl = s.cfg.ResetTTL, notify.TemplatePasswordReset
	}

	plain, hash, err := newOneTimeToken()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.notifier.Reserve(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrNotificationFailed, err)
	}
	defer res.Release()

	expires := s.now().UTC().Add(ttl)
	if err := s.storage.SetVerificationToken(ctx, user.ID, hash, purpose, expires); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res.Submit(notify.Message{
		To:       user.Email,
		Token:    plain,
		Template: tmpl,
	})

	return nil
}

// resendVerification повторно отправляет письмо подтверждения. Ошибки только логируются.
func (s *Service) resendVerification(ctx context.Context, user *models.User) {
	const op = "service.password.resendVerification"

	lg := log.From(ctx)

	if err := s.sendOneTimeToken(ctx, user, models.PurposeVerifyEmail); err != nil {
		lg.Warn("verification_resend_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	lg.Info("verification_resent",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/models"
	"github.com/pribylovaa/go-billing-auth/internal/notify"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/redact"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
	"github.com/pribylovaa/go-billing-auth/internal/token"
)

// Register регистрирует пользователя.
//
// В одной транзакции создаются пользователь (роль user, не подтверждён,
// с токеном подтверждения на VerificationTTL), подписка на план по умолчанию
// и запись реестра refresh-токенов. Место в очереди писем резервируется
// до транзакции: если очередь недоступна, ничего не сохраняется.
func (s *Service) Register(ctx context.Context, in models.RegisterInput) (pair *models.TokenPair, err error) {
	const op = "service.auth.Register"
	defer s.observe("register", time.Now(), &err)

	lg := log.From(ctx)

	in.Email = strings.TrimSpace(in.Email)
	if err := s.validateRegister(in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	email := strings.ToLower(in.Email)

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	plain, hash, err := newOneTimeToken()
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	res, err := s.notifier.Reserve(ctx)
	if err != nil {
		lg.Warn("register_notification_unavailable",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrNotificationFailed, err)
	}
	defer res.Release()

	now := s.now().UTC()
	expires := now.Add(s.cfg.VerificationTTL)

	user := &models.User{
		ID:                    uuid.New(),
		Name:                  strings.TrimSpace(in.Name),
		Email:                 email,
		PasswordHash:          digest,
		Address:               strings.TrimSpace(in.Address),
		Role:                  models.RoleUser,
		IsActive:              true,
		IsVerified:            false,
		VerificationTokenHash: hash,
		VerificationPurpose:   models.PurposeVerifyEmail,
		VerificationExpiresAt: &expires,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err = s.storage.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		if err := r.SaveUser(ctx, user); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return fmt.Errorf("%s: %w", op, ErrDuplicateAccount)
			}
			return err
		}

		plan, err := r.PlanByName(ctx, s.cfg.DefaultPlan)
		if err != nil {
			return fmt.Errorf("default plan %q: %w", s.cfg.DefaultPlan, err)
		}

		sub := &models.Subscription{
			ID:        uuid.New(),
			UserID:    user.ID,
			Plan:      plan.Name,
			Status:    models.SubscriptionActive,
			StartDate: now,
			EndDate:   now.AddDate(0, 0, plan.IntervalDays),
		}
		if err := r.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		pair, err = s.issuePair(ctx, r, user)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			lg.Info("register_duplicate",
				slog.String("op", op),
				slog.String("email", redact.Email(email)),
			)
		}
		return nil, apperr.Internal(op, err)
	}

	res.Submit(notify.Message{
		To:       email,
		Token:    plain,
		Template: notify.TemplateVerification,
	})

	lg.Info("register_ok",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(email)),
	)

	return pair, nil
}

// Login выполняет вход по email+пароль.
func (s *Service) Login(ctx context.Context, email, password string) (pair *models.TokenPair, err error) {
	const op = "service.auth.Login"
	defer s.observe("login", time.Now(), &err)

	lg := log.From(ctx)

	normEmail, err := normalizeEmail(email)
	if err != nil || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !s.allow(ctx, s.loginLimiter, normEmail, op) {
		lg.Warn("login_rate_limited",
			slog.String("op", op),
			slog.String("email", redact.Email(normEmail)),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrRateLimited)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.dummyHash != "" {
				_, _ = s.hasher.Verify(password, s.dummyHash)
			}
			lg.Info("login_invalid_credentials",
				slog.String("op", op),
				slog.String("email", redact.Email(normEmail)),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, apperr.Internal(op, err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !ok || !user.IsActive {
		lg.Info("login_invalid_credentials",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.Bool("active", user.IsActive),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	s.rehashIfNeeded(ctx, user, password)
	s.resetLimit(ctx, s.loginLimiter, normEmail, op)

	pair, err = s.issuePair(ctx, s.storage, user)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	lg.Info("login_ok",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return pair, nil
}

// Refresh обменивает refresh-токен (по jti) на новую пару.
// Из параллельных обменов одного jti успешен ровно один, остальные получают ErrTokenReused.
func (s *Service) Refresh(ctx context.Context, jti uuid.UUID) (pair *models.TokenPair, err error) {
	defer s.observe("refresh", time.Now(), &err)

	return s.refresh(ctx, jti, uuid.Nil)
}

// RefreshToken проверяет подписанный refresh-токен и обменивает его.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (pair *models.TokenPair, err error) {
	const op = "service.auth.RefreshToken"
	defer s.observe("refresh", time.Now(), &err)

	claims, err := s.decodeRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.refresh(ctx, claims.JTI, claims.Subject)
}

// refresh — обмен в одной транзакции. subject != uuid.Nil дополнительно сверяется с владельцем записи.
func (s *Service) refresh(ctx context.Context, jti, subject uuid.UUID) (*models.TokenPair, error) {
	const op = "service.auth.Refresh"

	lg := log.From(ctx)

	var pair *models.TokenPair
	err := s.storage.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		old, err := r.ConsumeRefreshToken(ctx, jti, s.now().UTC())
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				lg.Warn("refresh_lookup_not_found", slog.String("op", op))
				return fmt.Errorf("%s: %w", op, ErrInvalidToken)
			case errors.Is(err, storage.ErrRevoked):
				lg.Warn("refresh_reused",
					slog.String("op", op),
					slog.String("jti", jti.String()),
				)
				return fmt.Errorf("%s: %w", op, ErrTokenReused)
			case errors.Is(err, storage.ErrExpired):
				return fmt.Errorf("%s: %w", op, ErrTokenExpired)
			}
			return err
		}

		if subject != uuid.Nil && subject != old.UserID {
			lg.Warn("refresh_subject_mismatch", slog.String("op", op))
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		user, err := r.UserByID(ctx, old.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}
			return err
		}
		if !user.IsActive {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		pair, err = s.issuePair(ctx, r, user)
		return err
	})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	lg.Info("refresh_ok",
		slog.String("op", op),
		slog.String("user_id", pair.UserID.String()),
	)

	return pair, nil
}

// Logout отзывает refresh-токен по jti.
func (s *Service) Logout(ctx context.Context, jti uuid.UUID) (err error) {
	defer s.observe("logout", time.Now(), &err)

	return s.logout(ctx, jti)
}

// LogoutToken проверяет подписанный refresh-токен и отзывает его.
func (s *Service) LogoutToken(ctx context.Context, refreshToken string) (err error) {
	const op = "service.auth.LogoutToken"
	defer s.observe("logout", time.Now(), &err)

	claims, err := s.decodeRefresh(refreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return s.logout(ctx, claims.JTI)
}

func (s *Service) logout(ctx context.Context, jti uuid.UUID) error {
	const op = "service.auth.Logout"

	err := s.storage.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		revoked, err := r.RevokeRefreshTokenIfActive(ctx, jti)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}
			return err
		}
		if !revoked {
			return fmt.Errorf("%s: %w", op, ErrAlreadyRevoked)
		}
		return nil
	})
	if err != nil {
		return apperr.Internal(op, err)
	}

	log.From(ctx).Info("logout_ok",
		slog.String("op", op),
		slog.String("jti", jti.String()),
	)

	return nil
}

// LogoutAll отзывает все активные refresh-токены пользователя и возвращает их число.
// Уже выданные access-токены продолжают действовать до истечения срока.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (n int64, err error) {
	const op = "service.auth.LogoutAll"
	defer s.observe("logout_all", time.Now(), &err)

	err = s.storage.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		var err error
		n, err = r.RevokeAllUserTokens(ctx, userID)
		return err
	})
	if err != nil {
		return 0, apperr.Internal(op, err)
	}

	log.From(ctx).Info("logout_all_ok",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", n),
	)

	return n, nil
}

// issuePair выпускает access- и refresh-токен и сохраняет запись реестра через r.
func (s *Service) issuePair(ctx context.Context, r storage.RefreshTokenStorage, user *models.User) (*models.TokenPair, error) {
	const op = "service.auth.issuePair"

	access, accessExp, err := s.codec.IssueAccess(user.ID, user.Role, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, refresh, err := s.codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := r.SaveRefreshToken(ctx, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		UserID:           user.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rec.ExpiresAt,
		JTI:              rec.JTI,
	}, nil
}

// decodeRefresh проверяет подписанный refresh-токен без обращения к реестру.
func (s *Service) decodeRefresh(raw string) (*token.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if claims.Kind != token.KindRefresh {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// rehashIfNeeded переводит дайджест на основную схему. Ошибки только логируются.
func (s *Service) rehashIfNeeded(ctx context.Context, user *models.User, password string) {
	const op = "service.auth.rehashIfNeeded"

	rh, ok := s.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(user.PasswordHash) {
		return
	}

	lg := log.From(ctx)

	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.storage.UpdatePassword(ctx, user.ID, digest, s.now().UTC())
	}
	if err != nil {
		lg.Warn("password_rehash_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	lg.Info("password_rehashed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)
}

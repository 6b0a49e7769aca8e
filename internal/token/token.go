// token реализует кодек подписанных токенов с истечением срока:
// короткоживущих access-токенов {sub, role, exp} и refresh-токенов {sub, jti, exp}.
//
// Основные аспекты:
//   - ключ и алгоритм задаются один раз при создании кодека и не меняются;
//   - проверка различает три исхода: неверная подпись (ErrInvalidSignature),
//     битая нагрузка (ErrMalformed) и истёкший срок (ErrExpired);
//   - срок проверяется только после подписи: истёкший, но поддельный токен
//     даёт ErrInvalidSignature, а не ErrExpired;
//   - токен с ttl = T перестаёт быть валидным ровно в момент T (плюс leeway);
//     время выпуска фиксируется с точностью до миллисекунды.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/models"
)

var (
	// ErrInvalidSignature — подпись/тег аутентичности не сходится или алгоритм не тот.
	ErrInvalidSignature = errors.New("token signature is invalid")
	// ErrMalformed — токен не разбирается или в нём нет обязательных полей.
	ErrMalformed = errors.New("token is malformed")
	// ErrExpired — срок действия токена истёк.
	ErrExpired = errors.New("token is expired")
)

// Kind — тип токена.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims — проверенное содержимое токена.
// Role заполнен только у access, JTI — только у refresh.
type Claims struct {
	Kind      Kind
	Subject   uuid.UUID
	Role      models.Role
	JTI       uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec — контракт кодека токенов.
type Codec interface {
	// IssueAccess выпускает access-токен на ttl.
	IssueAccess(subject uuid.UUID, role models.Role, ttl time.Duration) (string, time.Time, error)
	// IssueRefresh выпускает refresh-токен и запись для реестра (jti — новый UUID v4).
	IssueRefresh(subject uuid.UUID) (models.RefreshToken, string, error)
	// Verify проверяет подпись, структуру и срок токена.
	Verify(token string) (*Claims, error)
}

// Option — опция кодека.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New создаёт кодек по AuthConfig.Algorithm.
func New(cfg config.AuthConfig, opts ...Option) (Codec, error) {
	const op = "token.New"

	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	switch cfg.Algorithm {
	case "", "HS256", "HS384", "HS512":
		c, err := newJWT(cfg, o)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return c, nil
	case AlgPasetoV4Local:
		c, err := newPaseto(cfg, o)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%s: unsupported algorithm %q", op, cfg.Algorithm)
	}
}

// timePrecision — точность iat и exp в выпускаемых токенах.
const timePrecision = time.Millisecond

// issueTime — момент выпуска: от него отсчитывается ttl.
func issueTime(now func() time.Time) time.Time {
	return now().UTC().Truncate(timePrecision)
}

// fromWire снимает погрешность сериализации времени.
func fromWire(t time.Time) time.Time {
	return t.Round(timePrecision).UTC()
}

// checkExpiry — общее правило срока: валиден только при now < exp + leeway.
func checkExpiry(now, exp time.Time, leeway time.Duration) error {
	if !now.Before(exp.Add(leeway)) {
		return ErrExpired
	}

	return nil
}

// newRefreshRecord формирует запись реестра для нового refresh-токена.
func newRefreshRecord(subject uuid.UUID, now time.Time, ttl time.Duration) models.RefreshToken {
	return models.RefreshToken{
		JTI:       uuid.New(),
		UserID:    subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Revoked:   false,
	}
}

// validate проверяет обязательные поля по типу токена.
func (c *Claims) validate() error {
	if c.Subject == uuid.Nil || c.ExpiresAt.IsZero() {
		return ErrMalformed
	}

	switch c.Kind {
	case KindAccess:
		if !c.Role.Valid() {
			return ErrMalformed
		}
	case KindRefresh:
		if c.JTI == uuid.Nil {
			return ErrMalformed
		}
	default:
		return ErrMalformed
	}

	return nil
}

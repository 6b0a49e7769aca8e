// service содержит бизнес-логику auth-ядра биллинга:
// регистрацию, вход, обмен и отзыв refresh-токенов, сброс и смену пароля,
// подтверждение e-mail и проверку ролей по access-токену.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования при условии, что storage.Storage потокобезопасно;
//   - многошаговые операции (регистрация, обмен, выход, сброс) выполняются
//     в одной транзакции storage.InTx: частичные изменения не видны;
//   - все ошибки публичных методов — доменные (apperr), неожиданные
//     сворачиваются в KindInternal на границе метода;
//   - уведомления отправляются после коммита, транзакция не ждёт почту.
package service

import (
	"context"
	"time"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/hasher"
	"github.com/pribylovaa/go-billing-auth/internal/limiter"
	"github.com/pribylovaa/go-billing-auth/internal/metrics"
	"github.com/pribylovaa/go-billing-auth/internal/notify"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
	"github.com/pribylovaa/go-billing-auth/internal/token"
)

var (
	// ErrValidationFailed — вход не прошёл проверку (email, политика пароля).
	// Транспорт: codes.InvalidArgument (HTTP 400).
	ErrValidationFailed = apperr.New(apperr.KindValidationFailed, "validation failed")

	// ErrDuplicateAccount — e-mail уже зарегистрирован.
	// Транспорт: codes.AlreadyExists (HTTP 409).
	ErrDuplicateAccount = apperr.New(apperr.KindDuplicateAccount, "account already exists")

	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Оба случая неразличимы для клиента. Транспорт: codes.Unauthenticated (HTTP 401).
	ErrInvalidCredentials = apperr.New(apperr.KindInvalidCredentials, "invalid credentials")

	// ErrNotVerified — e-mail не подтверждён (сброс пароля недоступен).
	// Транспорт: codes.FailedPrecondition (HTTP 403).
	ErrNotVerified = apperr.New(apperr.KindNotVerified, "email is not verified")

	// ErrInvalidToken — refresh-токен не разбирается, подделан или отсутствует в реестре.
	// Транспорт: codes.Unauthenticated (HTTP 401).
	ErrInvalidToken = apperr.New(apperr.KindInvalidToken, "invalid token")

	// ErrTokenReused — refresh-токен уже был обменян или отозван.
	// Транспорт: codes.Unauthenticated (HTTP 401).
	ErrTokenReused = apperr.New(apperr.KindTokenReused, "refresh token already used")

	// ErrTokenExpired — срок действия токена истёк.
	// Транспорт: codes.Unauthenticated (HTTP 401).
	ErrTokenExpired = apperr.New(apperr.KindTokenExpired, "token expired")

	// ErrAlreadyRevoked — повторный выход с тем же refresh-токеном.
	// Транспорт: codes.AlreadyExists (HTTP 409).
	ErrAlreadyRevoked = apperr.New(apperr.KindAlreadyRevoked, "token already revoked")

	// ErrInvalidOrExpiredToken — токен сброса/подтверждения неизвестен или просрочен.
	// Транспорт: codes.InvalidArgument (HTTP 400).
	ErrInvalidOrExpiredToken = apperr.New(apperr.KindInvalidOrExpiredToken, "invalid or expired token")

	// ErrInvalidOldPassword — при смене пароля текущий пароль не совпал.
	// Транспорт: codes.InvalidArgument (HTTP 400).
	ErrInvalidOldPassword = apperr.New(apperr.KindInvalidOldPassword, "old password is incorrect")

	// ErrForbidden — роль из токена не подходит.
	// Транспорт: codes.PermissionDenied (HTTP 403).
	ErrForbidden = apperr.New(apperr.KindForbidden, "forbidden")

	// ErrUnauthenticated — access-токен отсутствует, подделан или просрочен.
	// Транспорт: codes.Unauthenticated (HTTP 401).
	ErrUnauthenticated = apperr.New(apperr.KindUnauthenticated, "unauthenticated")

	// ErrNotificationFailed — письмо не может быть принято к отправке.
	// Транспорт: codes.Unavailable (HTTP 503).
	ErrNotificationFailed = apperr.New(apperr.KindNotificationFailed, "notification could not be sent")

	// ErrNotFound — пользователь не найден.
	// Транспорт: codes.NotFound (HTTP 404).
	ErrNotFound = apperr.New(apperr.KindNotFound, "not found")

	// ErrRateLimited — превышен лимит попыток.
	// Транспорт: codes.ResourceExhausted (HTTP 429).
	ErrRateLimited = apperr.New(apperr.KindRateLimited, "too many attempts")
)

// Notifier — порт уведомлений, реализуется notify.Dispatcher.
type Notifier interface {
	// Reserve занимает место в очереди до записи в БД.
	Reserve(ctx context.Context) (*notify.Reservation, error)
}

// rehasher — необязательная возможность хэшера: сообщить, что дайджест устарел.
type rehasher interface {
	NeedsRehash(digest string) bool
}

// passwordBound — необязательная возможность хэшера: предел длины пароля в байтах.
type passwordBound interface {
	MaxPasswordBytes() int
}

// Service описывает бизнес-логику auth-ядра.
type Service struct {
	storage  storage.Storage
	hasher   hasher.Hasher
	codec    token.Codec
	notifier Notifier
	cfg      config.AuthConfig

	loginLimiter  limiter.Limiter // nil — без ограничений
	forgotLimiter limiter.Limiter // nil — без ограничений
	metrics       *metrics.Metrics
	now           func() time.Time

	// maxPasswordBytes — предел основной схемы хэширования, 0 — без предела.
	maxPasswordBytes int

	// dummyHash сверяется при входе с неизвестным email, чтобы время ответа не выдавало наличие аккаунта.
	dummyHash string
}

// Option — опция Service.
type Option func(*Service)

// WithLimiter подключает ограничители входа и запросов сброса пароля.
func WithLimiter(login, forgot limiter.Limiter) Option {
	return func(s *Service) {
		s.loginLimiter = login
		s.forgotLimiter = forgot
	}
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

const dummyPassword = "Dummy#Passw0rd-for-timing"

// New создаёт новый экземпляр Service.
func New(st storage.Storage, h hasher.Hasher, codec token.Codec, n Notifier, cfg config.AuthConfig, opts ...Option) *Service {
	s := &Service{
		storage:  st,
		hasher:   h,
		codec:    codec,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.DefaultPlan == "" {
		s.cfg.DefaultPlan = "basic"
	}

	if b, ok := h.(passwordBound); ok {
		s.maxPasswordBytes = b.MaxPasswordBytes()
	}

	s.dummyHash, _ = h.Hash(dummyPassword)

	return s
}

// observe пишет метрику операции; вызывается через defer с именованной ошибкой.
func (s *Service) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveOp(op, *err, time.Since(start))
}

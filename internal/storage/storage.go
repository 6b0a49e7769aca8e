package storage

//go:generate mockgen -destination=../../mocks/mock_storage.go -package=mocks github.com/pribylovaa/go-billing-auth/internal/storage Repositories,Storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/план/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/jti).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — сущность просрочена (refresh-token, токен верификации).
	ErrExpired = errors.New("expired")
	// ErrRevoked — сущность отозвана (refresh-token).
	ErrRevoked = errors.New("revoked")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email (без учёта регистра).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByVerificationToken находит пользователя по хэшу токена верификации, срок не проверяется.
	UserByVerificationToken(ctx context.Context, hash string) (*models.User, error)
	// UpdatePassword заменяет дайджест пароля.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error
	// SetVerificationToken записывает новый токен верификации, затирая предыдущий.
	SetVerificationToken(ctx context.Context, id uuid.UUID, hash string, purpose models.VerificationPurpose, expiresAt time.Time) error
	// ConsumeVerificationToken атомарно гасит действующий токен и возвращает владельца.
	// ErrNotFound — токена нет (или другое назначение), ErrExpired — срок истёк.
	ConsumeVerificationToken(ctx context.Context, hash string, purpose models.VerificationPurpose, now time.Time) (*models.User, error)
	// MarkVerified переводит пользователя в подтверждённые.
	MarkVerified(ctx context.Context, id uuid.UUID, now time.Time) error
}

// PlanStorage выполняет операции над тарифными планами.
type PlanStorage interface {
	// SeedPlans идемпотентно добавляет планы (существующие не трогает).
	SeedPlans(ctx context.Context, plans []models.Plan) error
	// PlanByName находит план по имени.
	PlanByName(ctx context.Context, name string) (*models.Plan, error)
}

// SubscriptionStorage выполняет операции над подписками.
type SubscriptionStorage interface {
	// SaveSubscription сохраняет подписку.
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	// SubscriptionsByUser возвращает подписки пользователя, новые первыми.
	SubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
}

// RefreshTokenStorage — реестр refresh-токенов.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новую запись реестра.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByJTI находит запись по jti.
	RefreshTokenByJTI(ctx context.Context, jti uuid.UUID) (*models.RefreshToken, error)
	// ConsumeRefreshToken атомарно отзывает активную запись и возвращает её.
	// Из параллельных вызовов с одним jti успешен ровно один.
	// ErrNotFound — записи нет, ErrRevoked — уже отозвана, ErrExpired — срок истёк.
	ConsumeRefreshToken(ctx context.Context, jti uuid.UUID, now time.Time) (*models.RefreshToken, error)
	// RevokeRefreshTokenIfActive пытается отозвать refresh-токен, если он ещё не был отозван.
	RevokeRefreshTokenIfActive(ctx context.Context, jti uuid.UUID) (bool, error)
	// RevokeAllUserTokens отзывает все неотозванные записи пользователя, возвращает их число.
	RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) (int64, error)
	// LedgerStats считает записи реестра по состояниям на момент now.
	LedgerStats(ctx context.Context, now time.Time) (models.LedgerStats, error)
}

// Repositories — набор репозиториев, привязанных к одному соединению или транзакции.
type Repositories interface {
	UserStorage
	PlanStorage
	SubscriptionStorage
	RefreshTokenStorage
}

// Storage задает контракт работы с БД.
type Storage interface {
	Repositories
	// InTx выполняет fn в одной транзакции (read committed).
	// nil — коммит, ошибка или паника — откат.
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	// Ping проверяет доступность БД.
	Ping(ctx context.Context) error
	Close()
}

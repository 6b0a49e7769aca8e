package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/go-billing-auth/internal/models"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
)

// Интеграционные тесты пакета postgres:
// - поднимают реальный PostgreSQL через testcontainers-go (образ postgres:16-alpine);
// - применяют встроенную схему через Migrate (goose);
// - проверяют уникальность email без учёта регистра, атомарность транзакций
//   и единственность успешного обмена refresh-токена при гонке.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres — поднимает временный экземпляр PostgreSQL, применяет схему,
// засевает планы и возвращает хранилище.
// Если переменная окружения GO_TEST_INTEGRATION не установлена — тест пропускается.
func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SeedPlans(ctx, models.DefaultPlans()))

	return st
}

func newUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           uuid.New(),
		Name:         "Alice",
		Email:        email,
		PasswordHash: "hash",
		Role:         models.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func seedUser(t *testing.T, st *Storage, email string) uuid.UUID {
	t.Helper()
	u := newUser(email)
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u.ID
}

func seedRefresh(t *testing.T, st *Storage, userID uuid.UUID, ttl time.Duration) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	rt := &models.RefreshToken{JTI: uuid.New(), UserID: userID, IssuedAt: now, ExpiresAt: now.Add(ttl)}
	require.NoError(t, st.SaveRefreshToken(context.Background(), rt))
	return rt.JTI
}

func TestIntegration_SaveUser_UniqueEmail_CaseInsensitive(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	id := seedUser(t, st, "alice@example.com")

	got, err := st.UserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, models.RoleUser, got.Role)

	err = st.SaveUser(ctx, newUser("Alice@Example.com"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_SeedPlans_Idempotent(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, st.SeedPlans(ctx, models.DefaultPlans()))

	p, err := st.PlanByName(ctx, "business")
	require.NoError(t, err)
	require.EqualValues(t, 999, p.PriceCents)

	_, err = st.PlanByName(ctx, "platinum")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_InTx_RollsBackEverything(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := newUser("tx@example.com")
	err := st.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
		require.NoError(t, r.SaveUser(ctx, u))
		// План не существует: нарушение внешнего ключа откатывает и пользователя.
		return r.SaveSubscription(ctx, &models.Subscription{
			ID:        uuid.New(),
			UserID:    u.ID,
			Plan:      "platinum",
			Status:    models.SubscriptionActive,
			StartDate: time.Now().UTC(),
			EndDate:   time.Now().UTC().Add(24 * time.Hour),
		})
	})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.UserByID(ctx, u.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_Subscriptions(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	uid := seedUser(t, st, "subs@example.com")

	start := time.Now().UTC()
	require.NoError(t, st.SaveSubscription(ctx, &models.Subscription{
		ID: uuid.New(), UserID: uid, Plan: "basic", Status: models.SubscriptionActive,
		StartDate: start, EndDate: start.AddDate(0, 0, 30),
	}))

	subs, err := st.SubscriptionsByUser(ctx, uid)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "basic", subs[0].Plan)
	require.WithinDuration(t, start.AddDate(0, 0, 30), subs[0].EndDate, time.Second)
}

func TestIntegration_ConsumeRefreshToken_ExactlyOnce(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	uid := seedUser(t, st, "race@example.com")
	jti := seedRefresh(t, st, uid, time.Hour)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		revoked int
	)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			err := st.InTx(ctx, func(ctx context.Context, r storage.Repositories) error {
				_, err := r.ConsumeRefreshToken(ctx, jti, time.Now().UTC())
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrRevoked):
				revoked++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, n-1, revoked)
}

func TestIntegration_ConsumeRefreshToken_States(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	uid := seedUser(t, st, "states@example.com")

	_, err := st.ConsumeRefreshToken(ctx, uuid.New(), time.Now().UTC())
	require.ErrorIs(t, err, storage.ErrNotFound)

	expired := seedRefresh(t, st, uid, -time.Minute)
	_, err = st.ConsumeRefreshToken(ctx, expired, time.Now().UTC())
	require.ErrorIs(t, err, storage.ErrExpired)

	jti := seedRefresh(t, st, uid, time.Hour)
	got, err := st.ConsumeRefreshToken(ctx, jti, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, got.Revoked)

	_, err = st.ConsumeRefreshToken(ctx, jti, time.Now().UTC())
	require.ErrorIs(t, err, storage.ErrRevoked)
}

func TestIntegration_RevokeAll_And_Stats(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	uid := seedUser(t, st, "all@example.com")
	other := seedUser(t, st, "other@example.com")

	seedRefresh(t, st, uid, time.Hour)
	seedRefresh(t, st, uid, time.Hour)
	seedRefresh(t, st, other, time.Hour)
	seedRefresh(t, st, other, -time.Hour)

	n, err := st.RevokeAllUserTokens(ctx, uid)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = st.RevokeAllUserTokens(ctx, uid)
	require.NoError(t, err)
	require.Zero(t, n)

	stats, err := st.LedgerStats(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, models.LedgerStats{Active: 1, Revoked: 2, Expired: 1}, stats)
}

func TestIntegration_VerificationToken_Lifecycle(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	uid := seedUser(t, st, "verify@example.com")
	now := time.Now().UTC()

	require.NoError(t, st.SetVerificationToken(ctx, uid, "h1", models.PurposeVerifyEmail, now.Add(15*time.Minute)))

	// Другое назначение не гасит токен.
	_, err := st.ConsumeVerificationToken(ctx, "h1", models.PurposeResetPassword, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	u, err := st.ConsumeVerificationToken(ctx, "h1", models.PurposeVerifyEmail, now)
	require.NoError(t, err)
	require.Equal(t, uid, u.ID)

	_, err = st.ConsumeVerificationToken(ctx, "h1", models.PurposeVerifyEmail, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.SetVerificationToken(ctx, uid, "h2", models.PurposeResetPassword, now.Add(-time.Second)))
	_, err = st.ConsumeVerificationToken(ctx, "h2", models.PurposeResetPassword, now)
	require.ErrorIs(t, err, storage.ErrExpired)

	owner, err := st.UserByVerificationToken(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, uid, owner.ID)

	require.NoError(t, st.MarkVerified(ctx, uid, now))
	got, err := st.UserByID(ctx, uid)
	require.NoError(t, err)
	require.True(t, got.IsVerified)
}

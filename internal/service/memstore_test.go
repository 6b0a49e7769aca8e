package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/models"
	"github.com/pribylovaa/go-billing-auth/internal/storage"
)

// memData — состояние хранилища в памяти.
type memData struct {
	users  map[uuid.UUID]models.User
	plans  map[string]models.Plan
	subs   []models.Subscription
	tokens map[uuid.UUID]models.RefreshToken
}

func (d *memData) clone() *memData {
	out := &memData{
		users:  make(map[uuid.UUID]models.User, len(d.users)),
		plans:  make(map[string]models.Plan, len(d.plans)),
		subs:   append([]models.Subscription(nil), d.subs...),
		tokens: make(map[uuid.UUID]models.RefreshToken, len(d.tokens)),
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.plans {
		out.plans[k] = v
	}
	for k, v := range d.tokens {
		out.tokens[k] = v
	}
	return out
}

type memDB struct {
	mu   sync.Mutex
	data *memData
}

// memRepos — репозитории поверх memDB. Внутри InTx работает с копией (tx != nil).
type memRepos struct {
	db *memDB
	tx *memData
}

func (r *memRepos) view(fn func(d *memData) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return fn(r.db.data)
}

// memStorage — потокобезопасная реализация storage.Storage для тестов сервиса.
// Транзакции сериализуются, откат отбрасывает копию состояния.
type memStorage struct {
	*memRepos
}

var _ storage.Storage = (*memStorage)(nil)

func newMemStorage() *memStorage {
	db := &memDB{data: &memData{
		users:  map[uuid.UUID]models.User{},
		plans:  map[string]models.Plan{},
		tokens: map[uuid.UUID]models.RefreshToken{},
	}}
	return &memStorage{memRepos: &memRepos{db: db}}
}

func (s *memStorage) InTx(ctx context.Context, fn func(ctx context.Context, repos storage.Repositories) error) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx := s.db.data.clone()
	if err := fn(ctx, &memRepos{db: s.db, tx: tx}); err != nil {
		return err
	}

	s.db.data = tx
	return nil
}

func (s *memStorage) Ping(context.Context) error { return nil }

func (s *memStorage) Close() {}

func (r *memRepos) SaveUser(_ context.Context, user *models.User) error {
	return r.view(func(d *memData) error {
		for _, u := range d.users {
			if u.Email == user.Email {
				return storage.ErrAlreadyExists
			}
		}
		d.users[user.ID] = *user
		return nil
	})
}

func (r *memRepos) UserByEmail(_ context.Context, email string) (*models.User, error) {
	var out *models.User
	err := r.view(func(d *memData) error {
		for _, u := range d.users {
			if u.Email == email {
				u := u
				out = &u
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (r *memRepos) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	err := r.view(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *memRepos) UserByVerificationToken(_ context.Context, hash string) (*models.User, error) {
	var out *models.User
	err := r.view(func(d *memData) error {
		for _, u := range d.users {
			if u.VerificationTokenHash != "" && u.VerificationTokenHash == hash {
				u := u
				out = &u
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (r *memRepos) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string, now time.Time) error {
	return r.view(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		u.PasswordHash = passwordHash
		u.UpdatedAt = now
		d.users[id] = u
		return nil
	})
}

func (r *memRepos) SetVerificationToken(_ context.Context, id uuid.UUID, hash string, purpose models.VerificationPurpose, expiresAt time.Time) error {
	return r.view(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		u.VerificationTokenHash = hash
		u.VerificationPurpose = purpose
		u.VerificationExpiresAt = &expiresAt
		d.users[id] = u
		return nil
	})
}

func (r *memRepos) ConsumeVerificationToken(_ context.Context, hash string, purpose models.VerificationPurpose, now time.Time) (*models.User, error) {
	var out *models.User
	err := r.view(func(d *memData) error {
		for id, u := range d.users {
			if u.VerificationTokenHash != hash || u.VerificationPurpose != purpose {
				continue
			}
			if u.VerificationExpiresAt == nil || !now.Before(*u.VerificationExpiresAt) {
				return storage.ErrExpired
			}
			u.VerificationTokenHash = ""
			u.VerificationPurpose = ""
			u.VerificationExpiresAt = nil
			u.UpdatedAt = now
			d.users[id] = u
			out = &u
			return nil
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (r *memRepos) MarkVerified(_ context.Context, id uuid.UUID, now time.Time) error {
	return r.view(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		u.IsVerified = true
		u.UpdatedAt = now
		d.users[id] = u
		return nil
	})
}

func (r *memRepos) SeedPlans(_ context.Context, plans []models.Plan) error {
	return r.view(func(d *memData) error {
		for _, p := range plans {
			if _, ok := d.plans[p.Name]; !ok {
				d.plans[p.Name] = p
			}
		}
		return nil
	})
}

func (r *memRepos) PlanByName(_ context.Context, name string) (*models.Plan, error) {
	var out *models.Plan
	err := r.view(func(d *memData) error {
		p, ok := d.plans[name]
		if !ok {
			return storage.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memRepos) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	return r.view(func(d *memData) error {
		if _, ok := d.users[sub.UserID]; !ok {
			return storage.ErrNotFound
		}
		d.subs = append(d.subs, *sub)
		return nil
	})
}

func (r *memRepos) SubscriptionsByUser(_ context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var out []models.Subscription
	err := r.view(func(d *memData) error {
		for _, s := range d.subs {
			if s.UserID == userID {
				out = append(out, s)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
		return nil
	})
	return out, err
}

func (r *memRepos) SaveRefreshToken(_ context.Context, t *models.RefreshToken) error {
	return r.view(func(d *memData) error {
		if _, ok := d.tokens[t.JTI]; ok {
			return storage.ErrAlreadyExists
		}
		if _, ok := d.users[t.UserID]; !ok {
			return storage.ErrNotFound
		}
		d.tokens[t.JTI] = *t
		return nil
	})
}

func (r *memRepos) RefreshTokenByJTI(_ context.Context, jti uuid.UUID) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.view(func(d *memData) error {
		t, ok := d.tokens[jti]
		if !ok {
			return storage.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *memRepos) ConsumeRefreshToken(_ context.Context, jti uuid.UUID, now time.Time) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.view(func(d *memData) error {
		t, ok := d.tokens[jti]
		switch {
		case !ok:
			return storage.ErrNotFound
		case t.Revoked:
			return storage.ErrRevoked
		case !now.Before(t.ExpiresAt):
			return storage.ErrExpired
		}
		t.Revoked = true
		d.tokens[jti] = t
		out = &t
		return nil
	})
	return out, err
}

func (r *memRepos) RevokeRefreshTokenIfActive(_ context.Context, jti uuid.UUID) (bool, error) {
	var revoked bool
	err := r.view(func(d *memData) error {
		t, ok := d.tokens[jti]
		if !ok {
			return storage.ErrNotFound
		}
		if t.Revoked {
			return nil
		}
		t.Revoked = true
		d.tokens[jti] = t
		revoked = true
		return nil
	})
	return revoked, err
}

func (r *memRepos) RevokeAllUserTokens(_ context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.view(func(d *memData) error {
		for jti, t := range d.tokens {
			if t.UserID == userID && !t.Revoked {
				t.Revoked = true
				d.tokens[jti] = t
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memRepos) LedgerStats(_ context.Context, now time.Time) (models.LedgerStats, error) {
	var st models.LedgerStats
	err := r.view(func(d *memData) error {
		for _, t := range d.tokens {
			switch {
			case t.Revoked:
				st.Revoked++
			case !now.Before(t.ExpiresAt):
				st.Expired++
			default:
				st.Active++
			}
		}
		return nil
	})
	return st, err
}

// tokensOf возвращает все записи реестра пользователя.
func (s *memStorage) tokensOf(userID uuid.UUID) []models.RefreshToken {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []models.RefreshToken
	for _, t := range s.db.data.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStorage) user(id uuid.UUID) models.User {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.data.users[id]
}

func (s *memStorage) updateUser(id uuid.UUID, fn func(u *models.User)) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u := s.db.data.users[id]
	fn(&u)
	s.db.data.users[id] = u
}

func (s *memStorage) userCount() int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.data.users)
}

func (s *memStorage) subscriptionCount() int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.data.subs)
}

// Package postgres реализует storage.Storage поверх PostgreSQL:
// пул pgx, database/sql-обёртка stdlib и ORM bun (pgdialect).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/pribylovaa/go-billing-auth/internal/storage"
	"github.com/pribylovaa/go-billing-auth/migrations"
)

// Storage — хранилище на PostgreSQL.
// Методы репозиториев вне транзакции работают напрямую через пул.
type Storage struct {
	*repos

	pool  *pgxpool.Pool
	sqlDB *sql.DB
	db    *bun.DB
}

// repos реализует storage.Repositories поверх bun.IDB (*bun.DB или bun.Tx).
type repos struct {
	db bun.IDB
}

// New создает новое подключение к PostgreSQL.
func New(ctx context.Context, dbURL string) (*Storage, error) {
	const op = "storage.postgres.New"

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	st := newStorage(stdlib.OpenDBFromPool(pool))
	st.pool = pool

	return st, nil
}

func newStorage(sqlDB *sql.DB) *Storage {
	db := bun.NewDB(sqlDB, pgdialect.New())

	return &Storage{
		repos: &repos{db: db},
		sqlDB: sqlDB,
		db:    db,
	}
}

// InTx выполняет fn в транзакции read committed.
// Ошибка fn возвращается без обёртки.
func (s *Storage) InTx(ctx context.Context, fn func(ctx context.Context, r storage.Repositories) error) (err error) {
	const op = "storage.postgres.InTx"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}

		if err != nil {
			_ = tx.Rollback()
			return
		}

		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("%s: commit: %w", op, cerr)
		}
	}()

	err = fn(ctx, &repos{db: tx})
	return err
}

// Ping проверяет доступность БД.
func (s *Storage) Ping(ctx context.Context) error {
	const op = "storage.postgres.Ping"

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() {
	_ = s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

// gooseUpContext — точка подмены goose.UpContext в тестах.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate применяет встроенную схему (migrations/*.sql).
func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := gooseUpContext(ctx, s.sqlDB, "."); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// mapErr переводит ошибки драйвера в сторожевые ошибки storage.
func mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)

// hasher реализует одностороннее хэширование паролей медленными
// солёными адаптивными функциями (bcrypt, argon2id).
//
// Основные аспекты:
//   - Verify возвращает (false, nil) только при несовпадении пароля;
//     любая другая проблема (битый дайджест, сбой ГСЧ) — это ошибка,
//     которую вызывающий трактует как внутреннюю;
//   - открытый пароль никогда не логируется;
//   - хэшер потокобезопасен и не хранит изменяемого состояния.
package hasher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pribylovaa/go-billing-auth/internal/config"
)

var (
	// ErrUnknownScheme — дайджест не относится ни к одной известной схеме.
	ErrUnknownScheme = errors.New("unknown hash scheme")
	// ErrMalformedHash — дайджест повреждён.
	ErrMalformedHash = errors.New("malformed hash")
)

// Hasher — контракт хэшера паролей.
type Hasher interface {
	// Hash возвращает дайджест пароля.
	Hash(plain string) (string, error)
	// Verify сверяет пароль с дайджестом.
	Verify(plain, digest string) (bool, error)
}

// scheme — конкретная схема хэширования.
type scheme interface {
	Hasher
	// owns сообщает, сформирован ли дайджест этой схемой.
	owns(digest string) bool
	// MaxPasswordBytes — предел длины входа в байтах, 0 — без предела.
	MaxPasswordBytes() int
}

const (
	AlgBcrypt   = "bcrypt"
	AlgArgon2id = "argon2id"
)

// Multi хэширует основной схемой и проверяет дайджесты любой известной схемы.
// Это позволяет сменить основную схему без инвалидации сохранённых паролей.
type Multi struct {
	primary scheme
	schemes []scheme
}

// New собирает хэшер по конфигурации. Пустой Algorithm означает bcrypt.
func New(cfg config.HasherConfig) (*Multi, error) {
	const op = "hasher.New"

	bc := NewBcrypt(cfg.BcryptCost)
	ar := NewArgon2id(Argon2Params{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})

	switch strings.ToLower(cfg.Algorithm) {
	case "", AlgBcrypt:
		return &Multi{primary: bc, schemes: []scheme{bc, ar}}, nil
	case AlgArgon2id:
		return &Multi{primary: ar, schemes: []scheme{ar, bc}}, nil
	default:
		return nil, fmt.Errorf("%s: unsupported algorithm %q", op, cfg.Algorithm)
	}
}

// Hash хэширует пароль основной схемой.
func (m *Multi) Hash(plain string) (string, error) {
	return m.primary.Hash(plain)
}

// Verify выбирает схему по префиксу дайджеста.
func (m *Multi) Verify(plain, digest string) (bool, error) {
	for _, s := range m.schemes {
		if s.owns(digest) {
			return s.Verify(plain, digest)
		}
	}

	return false, ErrUnknownScheme
}

// MaxPasswordBytes возвращает предел длины пароля основной схемы, 0 — без предела.
func (m *Multi) MaxPasswordBytes() int {
	return m.primary.MaxPasswordBytes()
}

// NeedsRehash сообщает, что дайджест сформирован не основной схемой.
func (m *Multi) NeedsRehash(digest string) bool {
	return !m.primary.owns(digest)
}

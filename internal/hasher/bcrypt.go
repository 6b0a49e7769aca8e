package hasher

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost — стоимость по умолчанию.
	DefaultBcryptCost = 12
	// bcryptMaxBytes — bcrypt отвергает пароли длиннее 72 байт.
	bcryptMaxBytes = 72
)

// Bcrypt — схема bcrypt с настраиваемой стоимостью.
type Bcrypt struct {
	cost int
}

// NewBcrypt создаёт bcrypt-хэшер; cost вне допустимого диапазона приводится к границе,
// нулевой — к DefaultBcryptCost.
func NewBcrypt(cost int) *Bcrypt {
	switch {
	case cost == 0:
		cost = DefaultBcryptCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}

	return &Bcrypt{cost: cost}
}

// Hash хэширует пароль.
func (b *Bcrypt) Hash(plain string) (string, error) {
	const op = "hasher.bcrypt.Hash"

	out, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(out), nil
}

// Verify сравнивает пароль с дайджестом за постоянное время.
func (b *Bcrypt) Verify(plain, digest string) (bool, error) {
	const op = "hasher.bcrypt.Verify"

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w: %w", op, ErrMalformedHash, err)
	}
}

// MaxPasswordBytes возвращает предел входа bcrypt.
func (b *Bcrypt) MaxPasswordBytes() int {
	return bcryptMaxBytes
}

func (b *Bcrypt) owns(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

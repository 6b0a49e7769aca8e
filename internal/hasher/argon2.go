package hasher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params — параметры argon2id.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params — рекомендации OWASP для argon2id.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

const argon2Prefix = "$argon2id$"

// Argon2id — схема argon2id в формате PHC:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>.
type Argon2id struct {
	p Argon2Params
}

// NewArgon2id создаёт argon2id-хэшер; нулевые поля берутся из DefaultArgon2Params.
func NewArgon2id(p Argon2Params) *Argon2id {
	d := DefaultArgon2Params
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Iterations == 0 {
		p.Iterations = d.Iterations
	}
	if p.Parallelism == 0 {
		p.Parallelism = d.Parallelism
	}
	if p.SaltLength == 0 {
		p.SaltLength = d.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = d.KeyLength
	}

	return &Argon2id{p: p}
}

// Hash хэширует пароль со случайной солью.
func (a *Argon2id) Hash(plain string) (string, error) {
	const op = "hasher.argon2id.Hash"

	salt := make([]byte, a.p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	key := argon2.IDKey([]byte(plain), salt, a.p.Iterations, a.p.Memory, a.p.Parallelism, a.p.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		a.p.Memory, a.p.Iterations, a.p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify пересчитывает ключ с параметрами из дайджеста и сравнивает за постоянное время.
func (a *Argon2id) Verify(plain, digest string) (bool, error) {
	const op = "hasher.argon2id.Verify"

	p, salt, key, err := decodeArgon2(digest)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	other := argon2.IDKey([]byte(plain), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// MaxPasswordBytes — у argon2id нет предела длины входа.
func (a *Argon2id) MaxPasswordBytes() int {
	return 0
}

func (a *Argon2id) owns(digest string) bool {
	return strings.HasPrefix(digest, argon2Prefix)
}

func decodeArgon2(digest string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: version %d", ErrMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrMalformedHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	return p, salt, key, nil
}

package hasher

import (
	"strings"
	"testing"

	"github.com/pribylovaa/go-billing-auth/internal/config"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Быстрые параметры, чтобы тесты не тратили секунды на хэширование.
func fastCfg(alg string) config.HasherConfig {
	return config.HasherConfig{
		Algorithm:         alg,
		BcryptCost:        bcrypt.MinCost,
		Argon2Memory:      8 * 1024,
		Argon2Iterations:  1,
		Argon2Parallelism: 1,
	}
}

func TestHashVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, alg := range []string{AlgBcrypt, AlgArgon2id} {
		t.Run(alg, func(t *testing.T) {
			t.Parallel()

			h, err := New(fastCfg(alg))
			require.NoError(t, err)

			for _, pw := range []string{"Str0ng!Pass", "Abcdef1!", "пароль#Й9a", strings.Repeat("x", 64) + "A1!"} {
				digest, err := h.Hash(pw)
				require.NoError(t, err)
				require.NotContains(t, digest, pw)

				ok, err := h.Verify(pw, digest)
				require.NoError(t, err)
				require.True(t, ok)

				ok, err = h.Verify(pw+"x", digest)
				require.NoError(t, err)
				require.False(t, ok)

				ok, err = h.Verify(strings.ToUpper(pw), digest)
				require.NoError(t, err)
				require.False(t, ok)
			}
		})
	}
}

func TestHash_Salted(t *testing.T) {
	t.Parallel()

	h, err := New(fastCfg(AlgArgon2id))
	require.NoError(t, err)

	a, err := h.Hash("Str0ng!Pass")
	require.NoError(t, err)
	b, err := h.Hash("Str0ng!Pass")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerify_CrossScheme_AndRehash(t *testing.T) {
	t.Parallel()

	bc, err := New(fastCfg(AlgBcrypt))
	require.NoError(t, err)
	ar, err := New(fastCfg(AlgArgon2id))
	require.NoError(t, err)

	legacy, err := bc.Hash("Str0ng!Pass")
	require.NoError(t, err)

	// argon2id-хэшер продолжает принимать bcrypt-дайджесты.
	ok, err := ar.Verify("Str0ng!Pass", legacy)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ar.NeedsRehash(legacy))
	require.False(t, bc.NeedsRehash(legacy))
}

func TestVerify_MalformedDigest_IsError(t *testing.T) {
	t.Parallel()

	h, err := New(fastCfg(AlgBcrypt))
	require.NoError(t, err)

	_, err = h.Verify("pw", "plain-text-not-a-hash")
	require.ErrorIs(t, err, ErrUnknownScheme)

	_, err = h.Verify("pw", "$2a$04$short")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedHash)

	_, err = h.Verify("pw", "$argon2id$v=19$m=x$salt$hash")
	require.ErrorIs(t, err, ErrMalformedHash)
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := New(config.HasherConfig{Algorithm: "md5"})
	require.Error(t, err)
}

func TestNewBcrypt_ClampsCost(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultBcryptCost, NewBcrypt(0).cost)
	require.Equal(t, bcrypt.MinCost, NewBcrypt(1).cost)
	require.Equal(t, bcrypt.MaxCost, NewBcrypt(99).cost)
}

func TestMaxPasswordBytes_FollowsPrimary(t *testing.T) {
	t.Parallel()

	bc, err := New(fastCfg(AlgBcrypt))
	require.NoError(t, err)
	require.Equal(t, 72, bc.MaxPasswordBytes())

	ar, err := New(fastCfg(AlgArgon2id))
	require.NoError(t, err)
	require.Zero(t, ar.MaxPasswordBytes())

	long := "Str0ng!Pass" + strings.Repeat("x", 70)
	digest, err := ar.Hash(long)
	require.NoError(t, err)

	ok, err := ar.Verify(long, digest)
	require.NoError(t, err)
	require.True(t, ok)
}

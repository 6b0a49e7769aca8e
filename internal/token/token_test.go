package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/models"
)

const pasetoKeyHex = "707172737475767778797a7b7c7d7e7f808182838485868788898a8b8c8d8e8f"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func testCfg(alg string) config.AuthConfig {
	key := "unit-test-signing-key"
	if alg == AlgPasetoV4Local {
		key = pasetoKeyHex
	}

	return config.AuthConfig{
		SigningKey:      key,
		Algorithm:       alg,
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Issuer:          "billing-auth",
	}
}

func newCodec(t *testing.T, cfg config.AuthConfig) (Codec, *fakeClock) {
	t.Helper()

	clk := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(cfg, WithClock(clk.Now))
	require.NoError(t, err)

	return c, clk
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, alg := range []string{"HS256", "HS512", AlgPasetoV4Local} {
		t.Run(alg, func(t *testing.T) {
			c, clk := newCodec(t, testCfg(alg))
			uid := uuid.New()

			access, exp, err := c.IssueAccess(uid, models.RoleAdmin, 30*time.Minute)
			require.NoError(t, err)
			require.Equal(t, clk.t.Add(30*time.Minute), exp)

			claims, err := c.Verify(access)
			require.NoError(t, err)
			require.Equal(t, KindAccess, claims.Kind)
			require.Equal(t, uid, claims.Subject)
			require.Equal(t, models.RoleAdmin, claims.Role)
			require.True(t, exp.Equal(claims.ExpiresAt))

			rec, refresh, err := c.IssueRefresh(uid)
			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, rec.JTI)
			require.Equal(t, uid, rec.UserID)
			require.False(t, rec.Revoked)

			claims, err = c.Verify(refresh)
			require.NoError(t, err)
			require.Equal(t, KindRefresh, claims.Kind)
			require.Equal(t, rec.JTI, claims.JTI)
			require.True(t, rec.ExpiresAt.Equal(claims.ExpiresAt))
		})
	}
}

func TestCodec_RefreshJTIUnique(t *testing.T) {
	c, _ := newCodec(t, testCfg("HS256"))
	uid := uuid.New()

	seen := make(map[uuid.UUID]struct{})
	for i := 0; i < 50; i++ {
		rec, _, err := c.IssueRefresh(uid)
		require.NoError(t, err)
		_, dup := seen[rec.JTI]
		require.False(t, dup)
		seen[rec.JTI] = struct{}{}
	}
}

func TestCodec_ExpiresExactlyAtTTL(t *testing.T) {
	for _, alg := range []string{"HS256", AlgPasetoV4Local} {
		t.Run(alg, func(t *testing.T) {
			c, clk := newCodec(t, testCfg(alg))
			start := clk.t

			access, _, err := c.IssueAccess(uuid.New(), models.RoleUser, 10*time.Second)
			require.NoError(t, err)

			clk.t = start.Add(10*time.Second - time.Millisecond)
			_, err = c.Verify(access)
			require.NoError(t, err)

			clk.t = start.Add(10 * time.Second)
			_, err = c.Verify(access)
			require.ErrorIs(t, err, ErrExpired)

			clk.t = start.Add(time.Hour)
			_, err = c.Verify(access)
			require.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestCodec_ExpiryKeepsSubSecondIssueTime(t *testing.T) {
	for _, alg := range []string{"HS256", AlgPasetoV4Local} {
		t.Run(alg, func(t *testing.T) {
			c, clk := newCodec(t, testCfg(alg))
			clk.t = clk.t.Add(900 * time.Millisecond)
			start := clk.t

			access, exp, err := c.IssueAccess(uuid.New(), models.RoleUser, 10*time.Second)
			require.NoError(t, err)
			require.True(t, start.Add(10*time.Second).Equal(exp))

			rec, refresh, err := c.IssueRefresh(uuid.New())
			require.NoError(t, err)

			clk.t = start.Add(9500 * time.Millisecond)
			claims, err := c.Verify(access)
			require.NoError(t, err)
			require.True(t, exp.Equal(claims.ExpiresAt))
			require.True(t, start.Equal(claims.IssuedAt))

			clk.t = start.Add(10*time.Second - time.Millisecond)
			_, err = c.Verify(access)
			require.NoError(t, err)

			clk.t = start.Add(10 * time.Second)
			_, err = c.Verify(access)
			require.ErrorIs(t, err, ErrExpired)

			clk.t = rec.ExpiresAt.Add(-time.Millisecond)
			claims, err = c.Verify(refresh)
			require.NoError(t, err)
			require.True(t, rec.ExpiresAt.Equal(claims.ExpiresAt))

			clk.t = rec.ExpiresAt
			_, err = c.Verify(refresh)
			require.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestCodec_Leeway(t *testing.T) {
	cfg := testCfg("HS256")
	cfg.Leeway = 5 * time.Second
	c, clk := newCodec(t, cfg)
	start := clk.t

	access, _, err := c.IssueAccess(uuid.New(), models.RoleUser, 10*time.Second)
	require.NoError(t, err)

	clk.t = start.Add(14 * time.Second)
	_, err = c.Verify(access)
	require.NoError(t, err)

	clk.t = start.Add(15 * time.Second)
	_, err = c.Verify(access)
	require.ErrorIs(t, err, ErrExpired)
}

func TestJWT_TamperedPayload(t *testing.T) {
	c, _ := newCodec(t, testCfg("HS256"))

	access, _, err := c.IssueAccess(uuid.New(), models.RoleUser, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(access, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), `"role":"user"`, `"role":"admin"`, 1)
	require.NotEqual(t, string(payload), forged)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = c.Verify(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestJWT_SignatureCheckedBeforeExpiry(t *testing.T) {
	c, clk := newCodec(t, testCfg("HS256"))

	claims := jwtClaims{
		Type: string(KindAccess),
		Role: string(models.RoleUser),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "billing-auth",
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(-time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-key"))
	require.NoError(t, err)

	_, err = c.Verify(forged)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestJWT_WrongAlgorithm(t *testing.T) {
	cfg := testCfg("HS256")
	c, clk := newCodec(t, cfg)

	claims := jwtClaims{
		Type: string(KindAccess),
		Role: string(models.RoleUser),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.SigningKey))
	require.NoError(t, err)

	_, err = c.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestJWT_MissingClaims(t *testing.T) {
	cfg := testCfg("HS256")
	c, clk := newCodec(t, cfg)
	exp := jwt.NewNumericDate(clk.t.Add(time.Hour))

	cases := map[string]jwtClaims{
		"access without role": {
			Type:             string(KindAccess),
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: cfg.Issuer, ExpiresAt: exp},
		},
		"refresh without jti": {
			Type:             string(KindRefresh),
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: cfg.Issuer, ExpiresAt: exp},
		},
		"unknown type": {
			Type:             "session",
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: cfg.Issuer, ExpiresAt: exp},
		},
		"subject not uuid": {
			Type:             string(KindAccess),
			Role:             string(models.RoleUser),
			RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: cfg.Issuer, ExpiresAt: exp},
		},
		"no expiry": {
			Type:             string(KindAccess),
			Role:             string(models.RoleUser),
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: cfg.Issuer},
		},
		"foreign issuer": {
			Type:             string(KindAccess),
			Role:             string(models.RoleUser),
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: "someone-else", ExpiresAt: exp},
		},
	}

	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SigningKey))
			require.NoError(t, err)

			_, err = c.Verify(signed)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCodec_Garbage(t *testing.T) {
	for _, alg := range []string{"HS256", AlgPasetoV4Local} {
		t.Run(alg, func(t *testing.T) {
			c, _ := newCodec(t, testCfg(alg))

			for _, in := range []string{"", "garbage", "a.b.c", "v4.local.", "v4.local.!!!", "v4.public.AAAA"} {
				_, err := c.Verify(in)
				require.ErrorIs(t, err, ErrMalformed, "input %q", in)
			}
		})
	}
}

func TestPaseto_WrongKey(t *testing.T) {
	issuer, _ := newCodec(t, testCfg(AlgPasetoV4Local))

	other := testCfg(AlgPasetoV4Local)
	other.SigningKey = strings.Repeat("ab", 32)
	verifier, _ := newCodec(t, other)

	access, _, err := issuer.IssueAccess(uuid.New(), models.RoleUser, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(access)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPaseto_ExpiredForgedIsInvalidSignature(t *testing.T) {
	issuer, clk := newCodec(t, testCfg(AlgPasetoV4Local))

	other := testCfg(AlgPasetoV4Local)
	other.SigningKey = strings.Repeat("cd", 32)
	verifier, vclk := newCodec(t, other)

	access, _, err := issuer.IssueAccess(uuid.New(), models.RoleUser, time.Second)
	require.NoError(t, err)

	vclk.t = clk.t.Add(time.Hour)
	_, err = verifier.Verify(access)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNew_Errors(t *testing.T) {
	t.Run("unsupported algorithm", func(t *testing.T) {
		cfg := testCfg("RS256")
		_, err := New(cfg)
		require.Error(t, err)
	})

	t.Run("empty jwt key", func(t *testing.T) {
		cfg := testCfg("HS256")
		cfg.SigningKey = ""
		_, err := New(cfg)
		require.Error(t, err)
	})

	t.Run("paseto key not hex", func(t *testing.T) {
		cfg := testCfg(AlgPasetoV4Local)
		cfg.SigningKey = "not-hex"
		_, err := New(cfg)
		require.Error(t, err)
	})

	t.Run("paseto key wrong length", func(t *testing.T) {
		cfg := testCfg(AlgPasetoV4Local)
		cfg.SigningKey = "abcd"
		_, err := New(cfg)
		require.Error(t, err)
	})
}

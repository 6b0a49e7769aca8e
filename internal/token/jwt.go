package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/models"
)

// NumericDate по умолчанию режет время до секунды, и exp наступал бы раньше ttl.
// Дробная часть пишется в микросекундах, при разборе время округляется до timePrecision.
func init() {
	jwt.TimePrecision = time.Microsecond
}

// jwtClaims — полезная нагрузка JWT.
// typ отделяет access от refresh, чтобы один тип нельзя было предъявить вместо другого.
type jwtClaims struct {
	Type string `json:"typ"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// jwtCodec — HMAC-JWT (HS256/HS384/HS512).
type jwtCodec struct {
	method     jwt.SigningMethod
	key        []byte
	issuer     string
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

func newJWT(cfg config.AuthConfig, o options) (*jwtCodec, error) {
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unknown signing method %q", alg)
	}

	if cfg.SigningKey == "" {
		return nil, errors.New("empty signing key")
	}

	return &jwtCodec{
		method:     method,
		key:        []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		refreshTTL: cfg.RefreshTokenTTL,
		leeway:     cfg.Leeway,
		now:        o.now,
		// Срок проверяем сами после подписи (checkExpiry), валидатор библиотеки отключён.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// IssueAccess выпускает access-токен {sub, role, exp}.
func (c *jwtCodec) IssueAccess(subject uuid.UUID, role models.Role, ttl time.Duration) (string, time.Time, error) {
	const op = "token.jwt.IssueAccess"

	now := issueTime(c.now)
	exp := now.Add(ttl)

	claims := jwtClaims{
		Type: string(KindAccess),
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// IssueRefresh выпускает refresh-токен {sub, jti, exp} и запись реестра.
func (c *jwtCodec) IssueRefresh(subject uuid.UUID) (models.RefreshToken, string, error) {
	const op = "token.jwt.IssueRefresh"

	now := issueTime(c.now)
	rec := newRefreshRecord(subject, now, c.refreshTTL)

	claims := jwtClaims{
		Type: string(KindRefresh),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.JTI.String(),
			Subject:   subject.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return models.RefreshToken{}, "", fmt.Errorf("%s: %w", op, err)
	}

	return rec, signed, nil
}

// Verify проверяет токен.
func (c *jwtCodec) Verify(tokenStr string) (*Claims, error) {
	const op = "token.jwt.Verify"

	var raw jwtClaims
	_, err := c.parser.ParseWithClaims(tokenStr, &raw, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}

	if c.issuer != "" && raw.Issuer != c.issuer {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}

	claims, err := raw.toClaims()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := checkExpiry(c.now().UTC(), claims.ExpiresAt, c.leeway); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

func (r jwtClaims) toClaims() (*Claims, error) {
	sub, err := uuid.Parse(r.Subject)
	if err != nil {
		return nil, ErrMalformed
	}

	c := &Claims{
		Kind:    Kind(r.Type),
		Subject: sub,
		Role:    models.Role(r.Role),
	}

	if r.ExpiresAt != nil {
		c.ExpiresAt = fromWire(r.ExpiresAt.Time)
	}
	if r.IssuedAt != nil {
		c.IssuedAt = fromWire(r.IssuedAt.Time)
	}

	if c.Kind == KindRefresh {
		jti, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, ErrMalformed
		}
		c.JTI = jti
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

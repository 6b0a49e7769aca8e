package token

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/models"
)

// AlgPasetoV4Local — PASETO v4.local (XChaCha20 + BLAKE2b, симметричный ключ 32 байта).
const AlgPasetoV4Local = "v4.local"

const (
	pasetoHeader = "v4.local."
	// nonce (32) + тег (32): тело короче этого заведомо битое.
	pasetoMinBody = 64
)

// pasetoCodec — кодек на PASETO v4.local.
type pasetoCodec struct {
	key        paseto.V4SymmetricKey
	issuer     string
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

func newPaseto(cfg config.AuthConfig, o options) (*pasetoCodec, error) {
	raw, err := hex.DecodeString(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("v4.local key must be hex: %w", err)
	}

	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("v4.local key: %w", err)
	}

	return &pasetoCodec{
		key:        key,
		issuer:     cfg.Issuer,
		refreshTTL: cfg.RefreshTokenTTL,
		leeway:     cfg.Leeway,
		now:        o.now,
	}, nil
}

// IssueAccess выпускает access-токен.
func (c *pasetoCodec) IssueAccess(subject uuid.UUID, role models.Role, ttl time.Duration) (string, time.Time, error) {
	now := issueTime(c.now)
	exp := now.Add(ttl)

	t := paseto.NewToken()
	t.SetIssuer(c.issuer)
	t.SetSubject(subject.String())
	setTimes(&t, now, exp)
	t.SetString("typ", string(KindAccess))
	t.SetString("role", string(role))

	return t.V4Encrypt(c.key, nil), exp, nil
}

// IssueRefresh выпускает refresh-токен и запись реестра.
func (c *pasetoCodec) IssueRefresh(subject uuid.UUID) (models.RefreshToken, string, error) {
	now := issueTime(c.now)
	rec := newRefreshRecord(subject, now, c.refreshTTL)

	t := paseto.NewToken()
	t.SetIssuer(c.issuer)
	t.SetSubject(subject.String())
	t.SetJti(rec.JTI.String())
	setTimes(&t, now, rec.ExpiresAt)
	t.SetString("typ", string(KindRefresh))

	return rec, t.V4Encrypt(c.key, nil), nil
}

// Verify расшифровывает и проверяет токен.
// Формат проверяется до расшифровки, чтобы отличить мусор от чужого/подделанного токена.
func (c *pasetoCodec) Verify(tokenStr string) (*Claims, error) {
	const op = "token.paseto.Verify"

	if err := checkPasetoShape(tokenStr); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	parser := paseto.NewParserWithoutExpiryCheck()
	t, err := parser.ParseV4Local(c.key, tokenStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	claims, err := pasetoClaims(t, c.issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := checkExpiry(c.now().UTC(), claims.ExpiresAt, c.leeway); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// setTimes пишет iat и exp в RFC 3339 с дробной частью: SetExpiration отбрасывает доли секунды.
func setTimes(t *paseto.Token, iat, exp time.Time) {
	t.SetString("iat", iat.Format(time.RFC3339Nano))
	t.SetString("exp", exp.Format(time.RFC3339Nano))
}

func checkPasetoShape(s string) error {
	if !strings.HasPrefix(s, pasetoHeader) {
		return ErrMalformed
	}

	body := strings.TrimPrefix(s, pasetoHeader)
	if i := strings.IndexByte(body, '.'); i >= 0 {
		body = body[:i]
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) <= pasetoMinBody {
		return ErrMalformed
	}

	return nil
}

func pasetoClaims(t *paseto.Token, issuer string) (*Claims, error) {
	if issuer != "" {
		iss, err := t.GetIssuer()
		if err != nil || iss != issuer {
			return nil, ErrMalformed
		}
	}

	sub, err := t.GetSubject()
	if err != nil {
		return nil, ErrMalformed
	}
	subject, err := uuid.Parse(sub)
	if err != nil {
		return nil, ErrMalformed
	}

	typ, err := t.GetString("typ")
	if err != nil {
		return nil, ErrMalformed
	}

	exp, err := t.GetExpiration()
	if err != nil {
		return nil, ErrMalformed
	}

	c := &Claims{
		Kind:      Kind(typ),
		Subject:   subject,
		ExpiresAt: fromWire(exp),
	}

	if iat, err := t.GetIssuedAt(); err == nil {
		c.IssuedAt = fromWire(iat)
	}

	switch c.Kind {
	case KindAccess:
		role, err := t.GetString("role")
		if err != nil {
			return nil, ErrMalformed
		}
		c.Role = models.Role(role)
	case KindRefresh:
		jti, err := t.GetJti()
		if err != nil {
			return nil, ErrMalformed
		}
		if c.JTI, err = uuid.Parse(jti); err != nil {
			return nil, ErrMalformed
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

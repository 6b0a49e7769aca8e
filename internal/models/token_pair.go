package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenPair — пара токенов, выдаваемая при регистрации/входе/обновлении.
//
// Описание:
//   - AccessToken — короткоживущий подписанный токен {sub, role, exp};
//   - RefreshToken — подписанный токен {sub, jti, exp}, jti совпадает с записью в реестре;
//   - времена в UTC.
type TokenPair struct {
	UserID           uuid.UUID
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	JTI              uuid.UUID
}

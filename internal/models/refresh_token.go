package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — запись реестра выданных refresh-токенов.
// Revoked меняется только false -> true; записи не удаляются.
type RefreshToken struct {
	JTI       uuid.UUID
	UserID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Active сообщает, можно ли ещё обменять токен на момент now.
func (t RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// LedgerStats — срез состояния реестра refresh-токенов.
type LedgerStats struct {
	Active  int64
	Revoked int64
	Expired int64
}

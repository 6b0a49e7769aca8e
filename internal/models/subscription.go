package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus — статус подписки.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// Plan — тарифный план. Цена хранится в центах.
type Plan struct {
	Name         string
	PriceCents   int64
	IntervalDays int
}

// Subscription — подписка пользователя на план.
type Subscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Plan      string
	Status    SubscriptionStatus
	StartDate time.Time
	EndDate   time.Time
}

// DefaultPlans — планы, которые засеваются при старте.
func DefaultPlans() []Plan {
	return []Plan{
		{Name: "basic", PriceCents: 0, IntervalDays: 30},
		{Name: "business", PriceCents: 999, IntervalDays: 30},
		{Name: "enterprise", PriceCents: 1999, IntervalDays: 30},
	}
}

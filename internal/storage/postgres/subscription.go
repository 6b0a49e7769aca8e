package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-billing-auth/internal/models"
)

// SaveSubscription сохраняет подписку. Несуществующий план или пользователь дают storage.ErrNotFound.
func (r *repos) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.postgres.SaveSubscription"

	row := &subscriptionRow{
		ID:        sub.ID,
		UserID:    sub.UserID,
		Plan:      sub.Plan,
		Status:    string(sub.Status),
		StartDate: sub.StartDate,
		EndDate:   sub.EndDate,
	}

	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return mapErr(op, err)
	}

	return nil
}

// SubscriptionsByUser возвращает подписки пользователя, новые первыми.
func (r *repos) SubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	const op = "storage.postgres.SubscriptionsByUser"

	var rows []subscriptionRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("start_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}

	subs := make([]models.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, rows[i].model())
	}

	return subs, nil
}

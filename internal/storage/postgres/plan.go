package postgres

import (
	"context"

	"github.com/pribylovaa/go-billing-auth/internal/models"
)

// SeedPlans идемпотентно добавляет планы.
func (r *repos) SeedPlans(ctx context.Context, plans []models.Plan) error {
	const op = "storage.postgres.SeedPlans"

	if len(plans) == 0 {
		return nil
	}

	rows := make([]planRow, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, planRow{Name: p.Name, PriceCents: p.PriceCents, IntervalDays: p.IntervalDays})
	}

	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return mapErr(op, err)
	}

	return nil
}

// PlanByName находит план по имени.
func (r *repos) PlanByName(ctx context.Context, name string) (*models.Plan, error) {
	const op = "storage.postgres.PlanByName"

	row := new(planRow)
	err := r.db.NewSelect().
		Model(row).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}

	return &models.Plan{Name: row.Name, PriceCents: row.PriceCents, IntervalDays: row.IntervalDays}, nil
}

package tariff

import (
	"context"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Fixtures returns the default development catalog
func Fixtures() []Tariff {
	return []Tariff{
		{
			ID:           "3e7a29d1-4c6b-4d0a-9b1f-6d1a6f52b0aa",
			Name:         "Monthly",
			Description:  "Full catalog access for one month",
			Price:        decimal.RequireFromString("299.00"),
			Currency:     "RUB",
			DurationDays: 30,
			Active:       true,
		},
		{
			ID:           "8c1f5b02-9d34-4e8f-b5c7-2f90e3a41d55",
			Name:         "Yearly",
			Description:  "Full catalog access for one year",
			Price:        decimal.RequireFromString("2990.00"),
			Currency:     "RUB",
			DurationDays: 365,
			Active:       true,
		},
	}
}

// Seed inserts the fixture catalog when the table is empty. Used by the dev
// environment; production catalogs are managed by the admin service.
func (m *Manager) Seed(ctx context.Context) error {
	var count int64
	if err := m.db.WithContext(ctx).Model(&Tariff{}).Count(&count).Error; err != nil {
		return extErrors.Wrap(err, "Cannot count tariffs")
	}
	if count > 0 {
		return nil
	}
	fixtures := Fixtures()
	if err := m.db.WithContext(ctx).Create(&fixtures).Error; err != nil {
		return extErrors.Wrap(err, "Cannot seed tariffs")
	}
	return nil
}

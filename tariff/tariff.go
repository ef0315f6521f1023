package tariff

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tariff describes a purchasable subscription plan. The admin service owns
// writes; billing only reads. Tariffs referenced by payments are deactivated,
// never deleted.
type Tariff struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	Name         string          `json:"name" gorm:"type:varchar(255)"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price" gorm:"type:numeric(10,2)"`
	Currency     string          `json:"currency" gorm:"type:varchar(3)"` // The ISO currency code (e.g. RUB)
	DurationDays int             `json:"durationDays"`                    // Length of one paid period, at least 1
	Active       bool            `json:"active" gorm:"index"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

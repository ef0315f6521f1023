package tariff

import (
	"context"
	"errors"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Tariffs
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Lister = &Manager{}

// NewManager returns a new Manager for tariffs
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Tariff{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize tariff.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// GetByID will try to return the tariff in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Tariff, error) {
	var t Tariff

	result := m.db.WithContext(ctx).First(&t, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get tariff by id")
	}

	return &t, nil
}

// ListActive will return tariffs currently offered for purchase
func (m *Manager) ListActive(ctx context.Context) ([]Tariff, error) {
	results := make([]Tariff, 0, 1)

	result := m.db.WithContext(ctx).
		Order("price asc").
		Find(&results, "active = ?", true)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list active tariffs")
	}

	return results, nil
}

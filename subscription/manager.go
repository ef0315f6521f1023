package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to Subscriptions
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = &Manager{}
var _ RenewalStore = &Manager{}

// NewManager returns a new Manager for subscriptions
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// GetActive will try to return the user's active subscription
func (m *Manager) GetActive(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription

	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status = ?", StatusActive).
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get active subscription")
	}

	return &sub, nil
}

// ListActive returns the user's active subscriptions, most recent first
func (m *Manager) ListActive(ctx context.Context, userID string) ([]Subscription, error) {
	results := make([]Subscription, 0, 1)

	result := m.db.WithContext(ctx).
		Order("created_at desc").
		Where("user_id = ?", userID).
		Where("status = ?", StatusActive).
		Find(&results)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list active subscriptions")
	}

	return results, nil
}

// ActivateOptions describes one activation caused by a succeeded payment
type ActivateOptions struct {
	UserID       string
	TariffID     string
	PaymentID    string
	Now          time.Time
	DurationDays int
}

// ActivateForUser grants the user a subscription window funded by the given
// payment. The user's existing row is updated in place under FOR UPDATE rather
// than duplicated, so repeated confirmations and tariff changes cannot leave
// two active rows for one user.
func (m *Manager) ActivateForUser(ctx context.Context, opt ActivateOptions) (*Subscription, error) {
	var desired Subscription
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Subscription
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "user_id = ?", opt.UserID)

		if lookupRes.Error != nil && !errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			return lookupRes.Error
		}

		if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			desired = Subscription{
				ID:     uuid.New().String(),
				UserID: opt.UserID,
			}
		} else {
			desired = current
		}

		desired.TariffID = opt.TariffID
		desired.PaymentID = opt.PaymentID
		desired.StartDate = opt.Now
		desired.EndDate = opt.Now.AddDate(0, 0, opt.DurationDays)
		desired.Status = StatusActive

		return tx.Save(&desired).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		m.logger.Error("Unable to activate subscription",
			zap.String("UserID", opt.UserID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot activate subscription")
	}
	return &desired, nil
}

// Cancel flips the user's active subscription to canceled. Returns
// ErrNotSubscribed when there is no active row to cancel.
func (m *Manager) Cancel(ctx context.Context, userID string) (*Subscription, error) {
	var desired Subscription
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Subscription
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Where("status = ?", StatusActive).
			First(&current)

		if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			return ErrNotSubscribed
		}
		if lookupRes.Error != nil {
			return lookupRes.Error
		}

		desired = current
		desired.Status = StatusCanceled
		return tx.Save(&desired).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if errors.Is(err, ErrNotSubscribed) {
		return nil, err
	}
	if err != nil {
		m.logger.Error("Unable to cancel subscription",
			zap.String("UserID", userID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot cancel subscription")
	}
	return &desired, nil
}

// DueOn returns active subscriptions whose window closes on or before the end
// of the given day. A sweep that missed a cycle still picks the rows up.
func (m *Manager) DueOn(ctx context.Context, day time.Time) ([]Subscription, error) {
	endOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	results := make([]Subscription, 0, 1)
	result := m.db.WithContext(ctx).
		Order("end_date asc").
		Where("status = ?", StatusActive).
		Where("end_date < ?", endOfDay).
		Find(&results)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list due subscriptions")
	}

	return results, nil
}

// Extend pushes an active subscription's window forward by one tariff duration
// and repoints the funding payment. The new window starts from the old end date
// when renewal ran on time, and from now when the subscription already lapsed.
func (m *Manager) Extend(ctx context.Context, id, paymentID string, durationDays int, now time.Time) (*Subscription, error) {
	var desired Subscription
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Subscription
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Where("status = ?", StatusActive).
			First(&current)

		if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			return ErrNotSubscribed
		}
		if lookupRes.Error != nil {
			return lookupRes.Error
		}

		desired = current
		from := current.EndDate
		if from.Before(now) {
			from = now
		}
		desired.EndDate = from.AddDate(0, 0, durationDays)
		desired.PaymentID = paymentID
		return tx.Save(&desired).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if errors.Is(err, ErrNotSubscribed) {
		return nil, err
	}
	if err != nil {
		m.logger.Error("Unable to extend subscription",
			zap.String("SubscriptionID", id),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot extend subscription")
	}
	return &desired, nil
}

package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidTransition is returned when a status update would move a payment
// backward out of a terminal state
var ErrInvalidTransition = fmt.Errorf("payment status cannot move backward")

// Manager handles the database operations relating to Payments and Refunds
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ ProviderLookup = &Manager{}

// NewManager returns a new Manager for the payment and refund ledgers
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Payment{}, &Refund{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize payment.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create persists a new payment row
func (m *Manager) Create(ctx context.Context, p *Payment) error {
	if !p.Status.Valid() {
		return fmt.Errorf("invalid payment status: %s", p.Status)
	}
	result := m.db.WithContext(ctx).Create(p)
	if result.Error != nil {
		m.logger.Error("Unable to create new payment in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create payment")
	}
	return nil
}

// GetByID will try to return the payment in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Payment, error) {
	var p Payment

	result := m.db.WithContext(ctx).First(&p, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get payment by id")
	}

	return &p, nil
}

// GetByProviderID will try to return the payment by the gateway's payment id
func (m *Manager) GetByProviderID(ctx context.Context, providerPaymentID string) (*Payment, error) {
	var p Payment

	result := m.db.WithContext(ctx).First(&p, "provider_payment_id = ?", providerPaymentID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get payment by provider id")
	}

	return &p, nil
}

// ListSucceededByUser returns the user's payment history, most recent first
func (m *Manager) ListSucceededByUser(ctx context.Context, userID string) ([]Payment, error) {
	results := make([]Payment, 0, 1)

	result := m.db.WithContext(ctx).
		Order("created_at desc").
		Where("user_id = ?", userID).
		Where("status = ?", StatusSucceeded).
		Find(&results)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list payments by user")
	}

	return results, nil
}

// LambdaUpdateFunc is used when a transaction is required for update. Return value
// determines if the Manager should commit the changes. Note that current and
// desired may be nil if no Payment with the given id was found, and the lambda
// must return false in that case.
type LambdaUpdateFunc func(current *Payment, desired *Payment) (shouldSave bool)

// LambdaUpdate will perform a transactional update based on the lambda function.
// The selected Payment will be locked with FOR UPDATE.
func (m *Manager) LambdaUpdate(ctx context.Context, id string, lambda LambdaUpdateFunc) (*Payment, error) {
	var desired Payment
	var shouldReturn bool
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Payment
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "id = ?", id)
		if lookupRes.Error == nil {
			desired = current
			if lambda(&current, &desired) {
				if saveRes := tx.Save(&desired); saveRes.Error != nil {
					return saveRes.Error
				}
				shouldReturn = true
			}
			return nil
		} else if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			lambda(nil, nil)
			return nil
		}
		return lookupRes.Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return nil, err
	}
	if !shouldReturn {
		return nil, nil
	}
	return &desired, nil
}

// MarkStatus moves a payment forward to the given status, refusing backward
// transitions. A non-empty paymentMethodID is recorded alongside, since the
// provider only reveals the reusable method once the charge resolves.
// Returns the updated row, or nil when the payment is unknown or already past
// the requested status.
func (m *Manager) MarkStatus(ctx context.Context, id string, next Status, paymentMethodID string) (*Payment, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("invalid payment status: %s", next)
	}
	var transitionErr error
	updated, err := m.LambdaUpdate(ctx, id, func(current *Payment, desired *Payment) bool {
		if current == nil {
			return false
		}
		if !current.Status.CanTransition(next) {
			if current.Status != next {
				transitionErr = ErrInvalidTransition
			}
			return false
		}
		desired.Status = next
		if paymentMethodID != "" {
			desired.PaymentMethodID = paymentMethodID
		}
		return true
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot update payment status")
	}
	if transitionErr != nil {
		return nil, transitionErr
	}
	return updated, nil
}

// CreateRefund appends a refund row to the ledger
func (m *Manager) CreateRefund(ctx context.Context, r *Refund) error {
	result := m.db.WithContext(ctx).Create(r)
	if result.Error != nil {
		m.logger.Error("Unable to create new refund in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create refund")
	}
	return nil
}

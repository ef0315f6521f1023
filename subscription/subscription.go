package subscription

import (
	"fmt"
	"time"
)

// Status is the closed set of subscription states
type Status string

// Defining subscription states. A user's row flips between them; history lives
// in the payment ledger.
const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// ErrNotSubscribed is returned when an operation expects an active
// subscription and the user has none
var ErrNotSubscribed = fmt.Errorf("user has no active subscription")

// Subscription is a time-bounded grant of tariff benefits to a user, funded by
// one payment at a time. The unique index on UserID makes "one row per user"
// structural; the at-most-one-active invariant is then a status CAS on that row.
type Subscription struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId" gorm:"uniqueIndex;type:uuid"`
	TariffID  string    `json:"tariffId" gorm:"type:uuid"`
	PaymentID string    `json:"paymentId" gorm:"type:uuid"` // The funding payment
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RemainingDays returns the number of unexpired days, rounded up. A lapsed
// subscription has zero remaining days.
func (s *Subscription) RemainingDays(now time.Time) int {
	if !now.Before(s.EndDate) {
		return 0
	}
	left := s.EndDate.Sub(now)
	days := int(left / (time.Hour * 24))
	if left%(time.Hour*24) > 0 {
		days++
	}
	return days
}

package spec

import "time"

// Define constants shared between the API, the confirmation worker, and the renewal task
const (
	// ConfirmationBaseDelay is the first poll delay after a payment is created
	ConfirmationBaseDelay time.Duration = time.Second * 30
	// ConfirmationMaxAttempts bounds the number of gateway polls per payment
	ConfirmationMaxAttempts int = 10
	// ConfirmationMaxAge bounds the total wall-clock age of a confirmation task.
	// A payment still pending after this is marked expired instead of polled forever.
	ConfirmationMaxAge time.Duration = time.Hour * 24

	// RenewalSweepInterval is how often the renewal task scans for subscriptions due today
	RenewalSweepInterval time.Duration = time.Hour
)

type TaskType string

const (
	ConfirmationTask TaskType = "confirmation"
	RenewalTask      TaskType = "renewal"
)

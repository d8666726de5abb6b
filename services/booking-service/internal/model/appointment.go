package model

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Appointment is a committed booking. EndTime is a snapshot of
// start + service duration taken at creation; BufferedStart/BufferedEnd carry
// the service buffers and feed the storage-level exclusion constraint.
type Appointment struct {
	ID            string
	SiteID        string
	ServiceID     string
	StaffID       string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	StartTime     time.Time
	EndTime       time.Time
	BufferedStart time.Time
	BufferedEnd   time.Time
	Status        string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}

// Active reports whether the appointment still occupies its staff's time.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether an operator may move an appointment from one
// status to another. Completed, cancelled and no_show are terminal.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

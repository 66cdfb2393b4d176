package alarms

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAlarmNotFound = errors.New("alarm not found")
	ErrInvalidAlarm  = errors.New("invalid alarm")
	ErrNotAlarmOwner = errors.New("not the alarm owner")
)

const (
	DefaultWindowMinutes = 10
	maxWindowMinutes     = 12 * 60
	maxCodeLen           = 32
)

// Alarm is a daily checkpoint: enter Code within the window after AlarmTime or pay StakeAmount.
type Alarm struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	GoalID        *string         `json:"goal_id,omitempty"`
	Title         string          `json:"title"`
	AlarmTime     string          `json:"alarm_time"`
	Timezone      string          `json:"timezone"`
	Code          string          `json:"-"`
	StakeAmount   decimal.Decimal `json:"stake_amount"`
	WindowMinutes int             `json:"window_minutes"`
	IsActive      bool            `json:"is_active"`
	LastTriggered *time.Time      `json:"last_triggered,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type NewAlarm struct {
	AccountID     string
	GoalID        *string
	Title         string
	AlarmTime     string
	Timezone      string
	Code          string
	StakeAmount   decimal.Decimal
	WindowMinutes int
}

// Entry is one code entry attempt.
type Entry struct {
	ID            string    `json:"id"`
	AlarmID       string    `json:"alarm_id"`
	CodeEntered   string    `json:"-"`
	EnteredAt     time.Time `json:"entered_at"`
	WasSuccessful bool      `json:"was_successful"`
}

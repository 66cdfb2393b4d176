package tasks

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrTaskAlreadyCompleted = errors.New("task already completed")
	ErrInvalidTask          = errors.New("invalid task")
	ErrNotTaskOwner         = errors.New("not the task owner")
)

// Task pays RewardAmount into the owner's wallet once, when it is completed.
type Task struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	GoalID       *string         `json:"goal_id,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	IsCompleted  bool            `json:"is_completed"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DueDate      *time.Time      `json:"due_date,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type NewTask struct {
	AccountID    string
	GoalID       *string
	Title        string
	Description  string
	RewardAmount decimal.Decimal
	DueDate      *time.Time
}

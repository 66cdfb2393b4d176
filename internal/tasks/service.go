package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/money"
)

type Settler interface {
	Settle(ctx context.Context, req ledger.SettleRequest) (ledger.Entry, error)
	EntryByKey(ctx context.Context, key string) (ledger.Entry, error)
}

type EventTracker interface {
	Track(ctx context.Context, userID, eventName string, props map[string]any, sourceEventKey string)
}

type nopEvents struct{}

func (nopEvents) Track(context.Context, string, string, map[string]any, string) {}

const maxTitleLen = 200

type Service struct {
	repo   *Repository
	ledger Settler
	events EventTracker
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEvents(ev EventTracker) Option {
	return func(s *Service) { s.events = ev }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(repo *Repository, l Settler, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		ledger: l,
		events: nopEvents{},
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func RewardKey(taskID string) string {
	return "task:" + taskID + ":reward"
}

// normalizeTitle trims both fields; a task with only a description gets a placeholder title.
func normalizeTitle(title, description string) (string, string) {
	t := strings.TrimSpace(title)
	d := strings.TrimSpace(description)
	if t == "" && d != "" {
		t = "Untitled"
	}
	return t, d
}

func (s *Service) Create(ctx context.Context, in NewTask) (Task, error) {
	in.Title, in.Description = normalizeTitle(in.Title, in.Description)

	switch {
	case in.AccountID == "":
		return Task{}, fmt.Errorf("%w: account is required", ErrInvalidTask)
	case in.Title == "":
		return Task{}, fmt.Errorf("%w: title or description is required", ErrInvalidTask)
	case len(in.Title) > maxTitleLen:
		return Task{}, fmt.Errorf("%w: title longer than %d", ErrInvalidTask, maxTitleLen)
	case in.RewardAmount.IsNegative():
		return Task{}, fmt.Errorf("%w: reward must not be negative", ErrInvalidTask)
	}
	if err := money.Validate(in.RewardAmount); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	now := s.now()
	t := Task{
		ID:           uuid.NewString(),
		AccountID:    in.AccountID,
		GoalID:       in.GoalID,
		Title:        in.Title,
		Description:  in.Description,
		RewardAmount: in.RewardAmount,
		DueDate:      in.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, accountID string, completed *bool) ([]Task, error) {
	return s.repo.ListByAccount(ctx, accountID, completed)
}

// Complete marks the task done and credits its reward. The flag flips once; a completed task whose
// reward entry is missing (the credit failed after the flip) gets the credit on the next call.
func (s *Service) Complete(ctx context.Context, accountID, taskID string) (Task, *ledger.Entry, error) {
	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return Task{}, nil, err
	}
	if t.AccountID != accountID {
		return Task{}, nil, ErrNotTaskOwner
	}

	now := s.now()
	flipped, err := s.repo.MarkCompleted(ctx, t.ID, now)
	if err != nil {
		return Task{}, nil, err
	}
	if !flipped {
		if !t.RewardAmount.IsPositive() {
			return t, nil, ErrTaskAlreadyCompleted
		}
		_, err := s.ledger.EntryByKey(ctx, RewardKey(t.ID))
		switch {
		case err == nil:
			return t, nil, ErrTaskAlreadyCompleted
		case !errors.Is(err, ledger.ErrEntryNotFound):
			return Task{}, nil, err
		}
		s.log.Warn("task completed without reward entry, crediting", zap.String("task_id", t.ID))
		if fresh, err := s.repo.Get(ctx, t.ID); err == nil {
			t = fresh
		}
	} else {
		t.IsCompleted = true
		t.CompletedAt = &now
		t.UpdatedAt = now
	}

	var reward *ledger.Entry
	if t.RewardAmount.IsPositive() {
		entry, err := s.ledger.Settle(ctx, ledger.SettleRequest{
			AccountID:      t.AccountID,
			Amount:         t.RewardAmount,
			Kind:           ledger.KindReward,
			Related:        ledger.Related{Type: ledger.RelatedTask, ID: t.ID},
			IdempotencyKey: RewardKey(t.ID),
			Description:    "task reward " + t.Title,
		})
		if err != nil {
			return t, nil, err
		}
		reward = &entry
	}

	props := map[string]any{"task_id": t.ID}
	if reward != nil {
		props["reward_amount"] = t.RewardAmount.StringFixed(2)
	}
	s.events.Track(ctx, t.AccountID, "task_completed", props, "task_completed:"+t.ID)

	return t, reward, nil
}

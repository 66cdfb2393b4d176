package alarms

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/metrics"
	"goalstake-backend/internal/money"
)

type Settler interface {
	Settle(ctx context.Context, req ledger.SettleRequest) (ledger.Entry, error)
}

type EventTracker interface {
	Track(ctx context.Context, userID, eventName string, props map[string]any, sourceEventKey string)
}

type nopEvents struct{}

func (nopEvents) Track(context.Context, string, string, map[string]any, string) {}

type Service struct {
	repo          *Repository
	ledger        Settler
	events        EventTracker
	windowMinutes int
	now           func() time.Time
	log           *zap.Logger
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

// WithWindowMinutes sets the window length for alarms created without one.
func WithWindowMinutes(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= maxWindowMinutes {
			s.windowMinutes = n
		}
	}
}

func NewService(repo *Repository, l Settler, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		ledger:        l,
		events:        nopEvents{},
		windowMinutes: DefaultWindowMinutes,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func PenaltyKey(alarmID, windowDate string) string {
	return fmt.Sprintf("alarm:%s:%s", alarmID, windowDate)
}

func (s *Service) Create(ctx context.Context, in NewAlarm) (Alarm, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Code = strings.TrimSpace(in.Code)
	if in.WindowMinutes == 0 {
		in.WindowMinutes = s.windowMinutes
	}

	switch {
	case in.AccountID == "":
		return Alarm{}, fmt.Errorf("%w: account is required", ErrInvalidAlarm)
	case in.Title == "":
		return Alarm{}, fmt.Errorf("%w: title is required", ErrInvalidAlarm)
	case in.Code == "" || len(in.Code) > maxCodeLen:
		return Alarm{}, fmt.Errorf("%w: code must be 1-%d characters", ErrInvalidAlarm, maxCodeLen)
	case !in.StakeAmount.IsPositive():
		return Alarm{}, fmt.Errorf("%w: stake must be positive", ErrInvalidAlarm)
	case in.WindowMinutes < 0 || in.WindowMinutes > maxWindowMinutes:
		return Alarm{}, fmt.Errorf("%w: window must be 1-%d minutes", ErrInvalidAlarm, maxWindowMinutes)
	}
	if err := money.Validate(in.StakeAmount); err != nil {
		return Alarm{}, fmt.Errorf("%w: %v", ErrInvalidAlarm, err)
	}

	now := s.now()
	a := Alarm{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		GoalID:        in.GoalID,
		Title:         in.Title,
		AlarmTime:     in.AlarmTime,
		Timezone:      in.Timezone,
		Code:          in.Code,
		StakeAmount:   in.StakeAmount,
		WindowMinutes: in.WindowMinutes,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// validates time and timezone
	if _, err := WindowAt(a, now); err != nil {
		return Alarm{}, err
	}

	if err := s.repo.Insert(ctx, a); err != nil {
		return Alarm{}, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (Alarm, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByAccount(ctx context.Context, accountID string, activeOnly bool) ([]Alarm, error) {
	return s.repo.ListByAccount(ctx, accountID, activeOnly)
}

func (s *Service) SetActive(ctx context.Context, accountID, alarmID string, active bool) (Alarm, error) {
	a, err := s.repo.Get(ctx, alarmID)
	if err != nil {
		return Alarm{}, err
	}
	if a.AccountID != accountID {
		return Alarm{}, ErrNotAlarmOwner
	}

	now := s.now()
	if err := s.repo.SetActive(ctx, a.ID, active, now); err != nil {
		return Alarm{}, err
	}
	a.IsActive = active
	a.UpdatedAt = now
	return a, nil
}

func (s *Service) Entries(ctx context.Context, alarmID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListEntries(ctx, alarmID, limit)
}

// EnterCode logs one attempt. It succeeds when the code matches and at lies inside the
// window of the latest alarm occurrence.
func (s *Service) EnterCode(ctx context.Context, alarmID, code string, at time.Time) (Entry, error) {
	a, err := s.repo.Get(ctx, alarmID)
	if err != nil {
		return Entry{}, err
	}
	return s.enterCode(ctx, a, code, at)
}

func (s *Service) enterCode(ctx context.Context, a Alarm, code string, at time.Time) (Entry, error) {
	w, err := WindowAt(a, at)
	if err != nil {
		return Entry{}, err
	}

	code = strings.TrimSpace(code)
	match := subtle.ConstantTimeCompare([]byte(code), []byte(a.Code)) == 1

	e := Entry{
		ID:            uuid.NewString(),
		AlarmID:       a.ID,
		CodeEntered:   code,
		EnteredAt:     at,
		WasSuccessful: match && w.Contains(at),
	}
	if err := s.repo.InsertEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Evaluate decides the latest window of an alarm once it has closed. A missed window costs
// the stake; the penalty key is per window date so repeated or concurrent evaluations of the
// same window write one entry. Insufficient funds leave the window open for the next tick.
func (s *Service) Evaluate(ctx context.Context, alarmID string, now time.Time, codeEntered *string) (*ledger.Entry, error) {
	a, err := s.repo.Get(ctx, alarmID)
	if err != nil {
		return nil, err
	}

	if codeEntered != nil {
		if _, err := s.enterCode(ctx, a, *codeEntered, now); err != nil {
			return nil, err
		}
	}

	if !a.IsActive {
		metrics.RecordAlarmEvaluation("inactive")
		return nil, nil
	}

	w, err := WindowAt(a, now)
	if err != nil {
		return nil, err
	}
	if now.Before(w.End) {
		return nil, nil
	}
	if a.LastTriggered != nil && !a.LastTriggered.Before(w.End) {
		return nil, nil
	}
	if w.Start.Before(a.CreatedAt) {
		// window opened before the alarm existed
		return nil, nil
	}

	onTime, err := s.repo.HasSuccessfulEntry(ctx, a.ID, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	if onTime {
		if _, err := s.repo.AdvanceLastTriggered(ctx, a.ID, w.End); err != nil {
			return nil, err
		}
		metrics.RecordAlarmEvaluation("on_time")
		return nil, nil
	}

	entry, err := s.ledger.Settle(ctx, ledger.SettleRequest{
		AccountID:      a.AccountID,
		Amount:         a.StakeAmount.Neg(),
		Kind:           ledger.KindPenalty,
		Related:        ledger.Related{Type: ledger.RelatedAlarm, ID: a.ID},
		IdempotencyKey: PenaltyKey(a.ID, w.Date),
		Description:    "missed alarm " + a.Title,
	})
	if err != nil {
		metrics.RecordAlarmEvaluation("error")
		return nil, err
	}

	if _, err := s.repo.AdvanceLastTriggered(ctx, a.ID, w.End); err != nil {
		return &entry, err
	}
	metrics.RecordAlarmEvaluation("missed")

	s.events.Track(ctx, a.AccountID, "alarm_missed", map[string]any{
		"alarm_id":     a.ID,
		"window_date":  w.Date,
		"stake_amount": a.StakeAmount.StringFixed(2),
	}, PenaltyKey(a.ID, w.Date))

	return &entry, nil
}

// EvaluateDue sweeps every active alarm. One alarm failing does not stop the others.
func (s *Service) EvaluateDue(ctx context.Context, now time.Time) (int, error) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	var (
		penalties int
		errs      []error
	)
	for _, a := range active {
		if err := ctx.Err(); err != nil {
			return penalties, err
		}

		entry, err := s.Evaluate(ctx, a.ID, now, nil)
		if err != nil {
			s.log.Warn("alarm evaluation failed", zap.String("alarm_id", a.ID), zap.Error(err))
			if !errors.Is(err, ledger.ErrInsufficientFunds) {
				errs = append(errs, err)
			}
			continue
		}
		if entry != nil {
			penalties++
		}
	}
	return penalties, errors.Join(errs...)
}

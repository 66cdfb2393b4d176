package goals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/metrics"
	"goalstake-backend/internal/money"
)

// Settler is the slice of the ledger goals need.
type Settler interface {
	Settle(ctx context.Context, req ledger.SettleRequest) (ledger.Entry, error)
	EntryByKey(ctx context.Context, key string) (ledger.Entry, error)
}

// EventTracker records product analytics; failures must not surface.
type EventTracker interface {
	Track(ctx context.Context, userID, eventName string, props map[string]any, sourceEventKey string)
}

// FriendChecker answers whether two accounts are accepted friends.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// noFriends is used until a social graph is wired in: nobody can join or review.
type noFriends struct{}

func (noFriends) AreFriends(context.Context, string, string) (bool, error) { return false, nil }

const overdueBatch = 100

type Service struct {
	repo    *Repository
	ledger  Settler
	collabs *CollaborationSettler
	events  EventTracker
	friends FriendChecker
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEvents(ev EventTracker) Option {
	return func(s *Service) { s.events = ev }
}

func WithFriends(f FriendChecker) Option {
	return func(s *Service) { s.friends = f }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(repo *Repository, l Settler, collabs *CollaborationSettler, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		ledger:  l,
		collabs: collabs,
		events:  nopEvents{},
		friends: noFriends{},
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopEvents struct{}

func (nopEvents) Track(context.Context, string, string, map[string]any, string) {}

func StakeKey(goalID string) string {
	return "goal:" + goalID + ":stake"
}

func OwnerKey(goalID string, outcome Status) string {
	return fmt.Sprintf("goal:%s:owner:%s", goalID, outcome)
}

func (s *Service) Get(ctx context.Context, goalID string) (Goal, error) {
	return s.repo.Get(ctx, goalID)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string, status *Status) ([]Goal, error) {
	return s.repo.ListByOwner(ctx, ownerID, status)
}

// CreateGoal stores an active goal and takes its stake from the owner's wallet.
// A goal whose stake bounced for lack of funds is removed again.
func (s *Service) CreateGoal(ctx context.Context, in NewGoal) (Goal, ledger.Entry, error) {
	now := s.now()
	if err := validateNewGoal(in, now); err != nil {
		return Goal{}, ledger.Entry{}, err
	}

	goalType := in.GoalType
	if goalType == "" {
		goalType = TypeCustom
	}
	verify := true
	if in.VerificationRequired != nil {
		verify = *in.VerificationRequired
	}

	g := Goal{
		ID:                   uuid.NewString(),
		OwnerID:              in.OwnerID,
		Title:                strings.TrimSpace(in.Title),
		Description:          strings.TrimSpace(in.Description),
		GoalType:             goalType,
		TargetValue:          in.TargetValue,
		Deadline:             in.Deadline.UTC(),
		StakeAmount:          in.StakeAmount,
		Status:               StatusActive,
		VerificationRequired: verify,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertGoal(ctx, g); err != nil {
		return Goal{}, ledger.Entry{}, err
	}

	entry, err := s.Stake(ctx, g.OwnerID, g.ID, g.StakeAmount)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			if delErr := s.repo.DeleteUnstaked(ctx, g.ID); delErr != nil {
				s.log.Error("drop unstaked goal", zap.String("goal_id", g.ID), zap.Error(delErr))
			}
			return Goal{}, ledger.Entry{}, err
		}
		return g, ledger.Entry{}, err
	}

	s.events.Track(ctx, g.OwnerID, "goal_created", map[string]any{
		"goal_id":      g.ID,
		"goal_type":    string(g.GoalType),
		"stake_amount": g.StakeAmount.StringFixed(2),
		"title_len":    len(g.Title),
	}, "goal_created:"+g.ID)

	return g, entry, nil
}

func validateNewGoal(in NewGoal, now time.Time) error {
	switch {
	case in.OwnerID == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidGoal)
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidGoal)
	case !in.Deadline.After(now):
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidGoal)
	case !in.StakeAmount.IsPositive():
		return fmt.Errorf("%w: stake must be positive", ErrInvalidGoal)
	case in.GoalType != "" && !in.GoalType.Valid():
		return fmt.Errorf("%w: unknown goal type %q", ErrInvalidGoal, in.GoalType)
	}
	if err := money.Validate(in.StakeAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGoal, err)
	}
	return nil
}

// Stake moves the goal's stake out of the owner's wallet. Repeating it is a no-op.
func (s *Service) Stake(ctx context.Context, ownerID, goalID string, amount decimal.Decimal) (ledger.Entry, error) {
	if !amount.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: stake must be positive", ErrInvalidGoal)
	}

	g, err := s.repo.Get(ctx, goalID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if g.Status.Terminal() {
		return ledger.Entry{}, fmt.Errorf("%w: %s is %s", ErrGoalAlreadyResolved, g.ID, g.Status)
	}
	if g.OwnerID != ownerID {
		return ledger.Entry{}, ErrNotGoalOwner
	}
	if !amount.Equal(g.StakeAmount) {
		return ledger.Entry{}, fmt.Errorf("%w: goal stakes %s", ErrStakeMismatch, g.StakeAmount.StringFixed(2))
	}

	return s.ledger.Settle(ctx, ledger.SettleRequest{
		AccountID:      ownerID,
		Amount:         amount.Neg(),
		Kind:           ledger.KindStake,
		Related:        ledger.Related{Type: ledger.RelatedGoal, ID: g.ID},
		IdempotencyKey: StakeKey(g.ID),
		Description:    "stake on " + g.Title,
	})
}

// Resolve moves an active goal into outcome exactly once and settles everyone involved.
//
// actor is the account asking; an empty actor is the system (deadline expiry). When the
// owner or a collaborator settlement fails after the terminal write, the partial Resolution
// is returned with the error. Repeating the call with the same key and outcome, or Resettle,
// finishes the job.
func (s *Service) Resolve(ctx context.Context, goalID string, outcome Status, idempotencyKey, actor string) (Resolution, error) {
	if !outcome.Terminal() {
		return Resolution{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidGoal, outcome)
	}

	g, err := s.repo.Get(ctx, goalID)
	if err != nil {
		return Resolution{}, err
	}
	if actor != "" && actor != g.OwnerID {
		return Resolution{}, ErrNotGoalOwner
	}
	if g.Status.Terminal() {
		if replay(g, outcome, idempotencyKey) {
			return s.settle(ctx, g, nil)
		}
		return Resolution{}, fmt.Errorf("%w: %s is %s", ErrGoalAlreadyResolved, g.ID, g.Status)
	}

	now := s.now()
	total, approved, err := s.repo.VerificationCounts(ctx, g.ID)
	if err != nil {
		return Resolution{}, err
	}

	switch outcome {
	case StatusCompleted:
		if g.VerificationRequired && approved == 0 {
			return Resolution{}, ErrVerificationRequired
		}
	case StatusCancelled:
		if !now.Before(g.Deadline) || total > 0 {
			return Resolution{}, ErrCancelNotAllowed
		}
	}

	if idempotencyKey == "" {
		idempotencyKey = "resolve:" + uuid.NewString()
	}
	ok, err := s.repo.MarkTerminal(ctx, g.ID, outcome, idempotencyKey, now)
	if err != nil {
		return Resolution{}, err
	}
	if !ok {
		// lost the race; the winner may have been a retry of this very request
		if cur, err := s.repo.Get(ctx, g.ID); err == nil && replay(cur, outcome, idempotencyKey) {
			return s.settle(ctx, cur, nil)
		}
		return Resolution{}, fmt.Errorf("%w: %s", ErrGoalAlreadyResolved, g.ID)
	}

	g.Status = outcome
	g.ResolutionKey = idempotencyKey
	g.ResolvedAt = &now
	g.UpdatedAt = now
	metrics.RecordGoalResolution(string(outcome))

	res, err := s.settle(ctx, g, nil)

	s.events.Track(ctx, g.OwnerID, "goal_resolved", map[string]any{
		"goal_id":              g.ID,
		"outcome":              string(outcome),
		"collaborators":        len(res.CollaboratorEntries) + len(res.FailedCollaboratorIDs),
		"failed_collaborators": len(res.FailedCollaboratorIDs),
	}, "goal_resolved:"+g.ID)

	return res, err
}

// replay reports whether a request for an already terminal goal is a retry of the call that
// resolved it. Retries settle again, which only writes what is still missing.
func replay(g Goal, outcome Status, key string) bool {
	return key != "" && g.ResolutionKey == key && g.Status == outcome
}

// Resettle replays the settlements of a terminal goal. Entries already written are returned
// as they are; only missing ones are created. An empty collaboratorIDs means all of them.
func (s *Service) Resettle(ctx context.Context, goalID string, collaboratorIDs []string) (Resolution, error) {
	g, err := s.repo.Get(ctx, goalID)
	if err != nil {
		return Resolution{}, err
	}
	if !g.Status.Terminal() {
		return Resolution{}, fmt.Errorf("%w: %s is still active", ErrInvalidGoal, g.ID)
	}
	return s.settle(ctx, g, collaboratorIDs)
}

func (s *Service) settle(ctx context.Context, g Goal, only []string) (Resolution, error) {
	res := Resolution{Goal: g, CollaboratorEntries: []ledger.Entry{}}

	ownerEntry, ownerErr := s.settleOwner(ctx, g)
	res.OwnerEntry = ownerEntry
	if ownerErr != nil {
		s.log.Error("owner settlement failed",
			zap.String("goal_id", g.ID),
			zap.String("outcome", string(g.Status)),
			zap.Error(ownerErr),
		)
	}

	collabs, err := s.repo.ListCollaborations(ctx, g.ID)
	if err != nil {
		return res, errors.Join(ownerErr, err)
	}

	entries, collabErr := s.collabs.Settle(ctx, g, g.Status, collabs, only)
	res.CollaboratorEntries = entries
	var partial *PartialSettlementError
	if errors.As(collabErr, &partial) {
		res.FailedCollaboratorIDs = partial.FailedCollaboratorIDs
	}

	if ownerErr != nil || collabErr != nil {
		return res, errors.Join(ownerErr, collabErr)
	}
	return res, nil
}

// settleOwner returns the held stake on completion or cancellation. On failure the stake
// entry itself is the owner's settlement. A goal that was never staked settles nothing.
func (s *Service) settleOwner(ctx context.Context, g Goal) (*ledger.Entry, error) {
	stake, err := s.ledger.EntryByKey(ctx, StakeKey(g.ID))
	if errors.Is(err, ledger.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var kind ledger.Kind
	switch g.Status {
	case StatusFailed:
		return &stake, nil
	case StatusCompleted:
		kind = ledger.KindPayout
	case StatusCancelled:
		kind = ledger.KindRefund
	default:
		return nil, nil
	}

	e, err := s.ledger.Settle(ctx, ledger.SettleRequest{
		AccountID:      g.OwnerID,
		Amount:         stake.Amount.Neg(),
		Kind:           kind,
		Related:        ledger.Related{Type: ledger.RelatedGoal, ID: g.ID},
		IdempotencyKey: OwnerKey(g.ID, g.Status),
		Description:    fmt.Sprintf("goal %s", g.Status),
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ExpireOverdue fails every active goal past its deadline that has no approved verification.
// Goals with an approved verification wait for the owner to complete them.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) ([]Resolution, error) {
	overdue, err := s.repo.ListOverdue(ctx, now, overdueBatch)
	if err != nil {
		return nil, err
	}

	var (
		out  []Resolution
		errs []error
	)
	for _, g := range overdue {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		_, approved, err := s.repo.VerificationCounts(ctx, g.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if approved > 0 {
			continue
		}

		res, err := s.Resolve(ctx, g.ID, StatusFailed, "expiry:"+g.ID, "")
		switch {
		case err == nil:
			out = append(out, res)
		case errors.Is(err, ErrGoalAlreadyResolved):
		default:
			s.log.Warn("expire goal", zap.String("goal_id", g.ID), zap.Error(err))
			if res.Goal.ID != "" {
				out = append(out, res)
			}
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// --- collaborators ---

// AddCollaborator lets a friend of the owner back (or bet against) an open goal. The stake is
// held from the collaborator's wallet before the collaboration exists; a collaborator who
// cannot cover it never joins.
func (s *Service) AddCollaborator(ctx context.Context, goalID, collaboratorID string, stake decimal.Decimal, willEarnIfFails bool) (Collaboration, ledger.Entry, error) {
	if collaboratorID == "" {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: collaborator is required", ErrInvalidGoal)
	}
	if !stake.IsPositive() {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: collaborator stake must be positive", ErrInvalidGoal)
	}
	if err := money.Validate(stake); err != nil {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: %v", ErrInvalidGoal, err)
	}

	g, err := s.repo.Get(ctx, goalID)
	if err != nil {
		return Collaboration{}, ledger.Entry{}, err
	}
	if g.Status.Terminal() {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: %s is %s", ErrGoalAlreadyResolved, g.ID, g.Status)
	}
	if g.OwnerID == collaboratorID {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: owner cannot collaborate on their own goal", ErrInvalidGoal)
	}

	// same cutoff as cancellation: once the outcome can be known, nobody new gets in
	now := s.now()
	if !now.Before(g.Deadline) {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: deadline has passed", ErrCollaborationClosed)
	}
	total, _, err := s.repo.VerificationCounts(ctx, g.ID)
	if err != nil {
		return Collaboration{}, ledger.Entry{}, err
	}
	if total > 0 {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: evidence already submitted", ErrCollaborationClosed)
	}

	friends, err := s.friends.AreFriends(ctx, g.OwnerID, collaboratorID)
	if err != nil {
		return Collaboration{}, ledger.Entry{}, err
	}
	if !friends {
		return Collaboration{}, ledger.Entry{}, ErrNotFriends
	}

	if _, exists, err := s.repo.CollaborationOf(ctx, g.ID, collaboratorID); err != nil {
		return Collaboration{}, ledger.Entry{}, err
	} else if exists {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: %s on %s", ErrAlreadyCollaborating, collaboratorID, g.ID)
	}

	c := Collaboration{
		ID:              CollaborationID(g.ID, collaboratorID),
		GoalID:          g.ID,
		CollaboratorID:  collaboratorID,
		StakeAmount:     stake,
		WillEarnIfFails: willEarnIfFails,
		CreatedAt:       now,
	}

	hold, err := s.ledger.Settle(ctx, ledger.SettleRequest{
		AccountID:      collaboratorID,
		Amount:         stake.Neg(),
		Kind:           ledger.KindStake,
		Related:        ledger.Related{Type: ledger.RelatedCollaboration, ID: c.ID},
		IdempotencyKey: CollaboratorStakeKey(g.ID, collaboratorID),
		Description:    "stake on " + g.Title,
	})
	if err != nil {
		return Collaboration{}, ledger.Entry{}, err
	}
	// a replayed hold from an earlier attempt fixes the amount
	if !hold.Amount.Neg().Equal(stake) {
		return Collaboration{}, ledger.Entry{}, fmt.Errorf("%w: %s already holds %s", ErrStakeMismatch,
			collaboratorID, hold.Amount.Neg().StringFixed(2))
	}

	if err := s.repo.InsertCollaboration(ctx, c); err != nil {
		return Collaboration{}, ledger.Entry{}, err
	}

	s.events.Track(ctx, collaboratorID, "collaborator_joined", map[string]any{
		"goal_id":            g.ID,
		"stake_amount":       stake.StringFixed(2),
		"will_earn_if_fails": willEarnIfFails,
	}, "collaborator_joined:"+c.ID)

	return c, hold, nil
}

// CollaborationID is derived from the pair so a retried join holds against the same collaboration.
func CollaborationID(goalID, collaboratorID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("goal:"+goalID+":collab:"+collaboratorID)).String()
}

func (s *Service) ListCollaborators(ctx context.Context, goalID string) ([]Collaboration, error) {
	if _, err := s.repo.Get(ctx, goalID); err != nil {
		return nil, err
	}
	return s.repo.ListCollaborations(ctx, goalID)
}

// --- verifications ---

func (s *Service) SubmitVerification(ctx context.Context, goalID, submitter string, ev Evidence, verifiedValue string) (Verification, error) {
	if err := ev.Validate(); err != nil {
		return Verification{}, err
	}

	g, err := s.repo.Get(ctx, goalID)
	if err != nil {
		return Verification{}, err
	}
	if g.Status.Terminal() {
		return Verification{}, fmt.Errorf("%w: %s is %s", ErrGoalAlreadyResolved, g.ID, g.Status)
	}
	if g.OwnerID != submitter {
		return Verification{}, ErrNotGoalOwner
	}

	v := Verification{
		ID:            uuid.NewString(),
		GoalID:        g.ID,
		SubmittedBy:   submitter,
		Evidence:      ev,
		VerifiedValue: strings.TrimSpace(verifiedValue),
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertVerification(ctx, v); err != nil {
		return Verification{}, err
	}
	return v, nil
}

// ApproveVerification marks evidence as accepted. The goal owner cannot approve their own, and
// the reviewer has to be a friend of the owner or one of the goal's collaborators.
func (s *Service) ApproveVerification(ctx context.Context, verificationID, reviewer string) (Verification, error) {
	v, err := s.repo.GetVerification(ctx, verificationID)
	if err != nil {
		return Verification{}, err
	}
	g, err := s.repo.Get(ctx, v.GoalID)
	if err != nil {
		return Verification{}, err
	}
	if g.Status.Terminal() {
		return Verification{}, fmt.Errorf("%w: %s is %s", ErrGoalAlreadyResolved, g.ID, g.Status)
	}
	if reviewer == "" || reviewer == g.OwnerID {
		return Verification{}, ErrSelfApproval
	}
	if err := s.canReview(ctx, g, reviewer); err != nil {
		return Verification{}, err
	}

	now := s.now()
	if err := s.repo.ApproveVerification(ctx, v.ID, reviewer, now); err != nil {
		return Verification{}, err
	}
	v.IsApproved = true
	v.ReviewedBy = &reviewer
	v.ReviewedAt = &now
	return v, nil
}

// canReview allows accepted friends of the owner and the goal's collaborators.
func (s *Service) canReview(ctx context.Context, g Goal, reviewer string) error {
	ok, err := s.friends.AreFriends(ctx, g.OwnerID, reviewer)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, ok, err = s.repo.CollaborationOf(ctx, g.ID, reviewer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotGoalReviewer
	}
	return nil
}

func (s *Service) ListVerifications(ctx context.Context, goalID string) ([]Verification, error) {
	if _, err := s.repo.Get(ctx, goalID); err != nil {
		return nil, err
	}
	return s.repo.ListVerifications(ctx, goalID)
}

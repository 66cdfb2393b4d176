// Package friends keeps the social graph: who may back a goal and who may review its evidence.
package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventTracker interface {
	Track(ctx context.Context, userID, eventName string, props map[string]any, sourceEventKey string)
}

type nopEvents struct{}

func (nopEvents) Track(context.Context, string, string, map[string]any, string) {}

type Service struct {
	repo   *Repository
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

func NewService(repo *Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		events: nopEvents{},
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request asks addressee to become a friend. Asking again returns the existing row; a
// request back to someone who already asked accepts theirs.
func (s *Service) Request(ctx context.Context, requesterID, addresseeID string) (Friendship, error) {
	requesterID = strings.TrimSpace(requesterID)
	addresseeID = strings.TrimSpace(addresseeID)
	switch {
	case requesterID == "" || addresseeID == "":
		return Friendship{}, fmt.Errorf("%w: both users are required", ErrInvalidRequest)
	case requesterID == addresseeID:
		return Friendship{}, fmt.Errorf("%w: cannot befriend yourself", ErrInvalidRequest)
	}

	f := Friendship{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	inserted, err := s.repo.Insert(ctx, f)
	if err != nil {
		return Friendship{}, err
	}
	if inserted {
		s.events.Track(ctx, requesterID, "friend_requested", map[string]any{
			"friendship_id": f.ID,
		}, "friend_requested:"+f.ID)
		return f, nil
	}

	existing, err := s.repo.Between(ctx, requesterID, addresseeID)
	if err != nil {
		return Friendship{}, err
	}
	if existing.Status == StatusPending && existing.AddresseeID == requesterID {
		return s.Accept(ctx, existing.ID, requesterID)
	}
	return existing, nil
}

// Accept is only allowed for the addressee. Accepting twice returns the accepted row.
func (s *Service) Accept(ctx context.Context, friendshipID, userID string) (Friendship, error) {
	f, err := s.repo.Get(ctx, friendshipID)
	if err != nil {
		return Friendship{}, err
	}
	if f.AddresseeID != userID {
		return Friendship{}, ErrNotAddressee
	}
	if f.Status == StatusAccepted {
		return f, nil
	}

	now := s.now()
	ok, err := s.repo.MarkAccepted(ctx, f.ID, now)
	if err != nil {
		return Friendship{}, err
	}
	if !ok {
		// accepted concurrently
		return s.repo.Get(ctx, f.ID)
	}
	f.Status = StatusAccepted
	f.AcceptedAt = &now

	s.log.Info("friendship accepted", zap.String("friendship_id", f.ID))
	s.events.Track(ctx, userID, "friend_accepted", map[string]any{
		"friendship_id": f.ID,
	}, "friend_accepted:"+f.ID)
	return f, nil
}

func (s *Service) List(ctx context.Context, userID string, status *Status) ([]Friendship, error) {
	return s.repo.ListByUser(ctx, userID, status)
}

// AreFriends reports whether a and b have an accepted friendship in either direction.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	f, err := s.repo.Between(ctx, a, b)
	if errors.Is(err, ErrFriendshipNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return f.Status == StatusAccepted, nil
}

package goals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"goalstake-backend/internal/db"
	"goalstake-backend/internal/ledger"
	"goalstake-backend/internal/money"
)

// Repository persists goals, collaborations and verifications.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(conn *sqlx.DB) *Repository {
	return &Repository{db: conn}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledger.ErrStoreUnavailable, op, err)
}

type goalRow struct {
	ID                   string `db:"id"`
	OwnerID              string `db:"owner_id"`
	Title                string `db:"title"`
	Description          string `db:"description"`
	GoalType             string `db:"goal_type"`
	TargetValue          string `db:"target_value"`
	Deadline             int64  `db:"deadline"`
	StakeAmount          int64  `db:"stake_amount"`
	Status               string `db:"status"`
	VerificationRequired bool   `db:"verification_required"`
	ResolutionKey        string `db:"resolution_key"`
	CreatedAt            int64  `db:"created_at"`
	UpdatedAt            int64  `db:"updated_at"`
	ResolvedAt           *int64 `db:"resolved_at"`
}

func (r goalRow) toGoal() Goal {
	return Goal{
		ID:                   r.ID,
		OwnerID:              r.OwnerID,
		Title:                r.Title,
		Description:          r.Description,
		GoalType:             GoalType(r.GoalType),
		TargetValue:          r.TargetValue,
		Deadline:             db.FromMillis(r.Deadline),
		StakeAmount:          money.FromMinor(r.StakeAmount),
		Status:               Status(r.Status),
		VerificationRequired: r.VerificationRequired,
		ResolutionKey:        r.ResolutionKey,
		CreatedAt:            db.FromMillis(r.CreatedAt),
		UpdatedAt:            db.FromMillis(r.UpdatedAt),
		ResolvedAt:           db.TimePtr(r.ResolvedAt),
	}
}

const goalColumns = `id, owner_id, title, description, goal_type, target_value, deadline, stake_amount,
	status, verification_required, resolution_key, created_at, updated_at, resolved_at`

func (r *Repository) InsertGoal(ctx context.Context, g Goal) error {
	stake, err := money.ToMinor(g.StakeAmount)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		g.ID, g.OwnerID, g.Title, g.Description, string(g.GoalType), g.TargetValue,
		db.Millis(g.Deadline), stake, string(g.Status), g.VerificationRequired, g.ResolutionKey,
		db.Millis(g.CreatedAt), db.Millis(g.UpdatedAt), db.NullMillis(g.ResolvedAt),
	)
	if err != nil {
		return storeErr("insert goal", err)
	}
	return nil
}

// DeleteUnstaked removes a goal that never got its stake; anything else is left alone.
func (r *Repository) DeleteUnstaked(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM goals
		WHERE id = ? AND status = 'active'
		  AND NOT EXISTS (SELECT 1 FROM goal_collaborations c WHERE c.goal_id = goals.id)
		  AND NOT EXISTS (SELECT 1 FROM verifications v WHERE v.goal_id = goals.id)
	`), id)
	if err != nil {
		return storeErr("delete goal", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Goal, error) {
	var row goalRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+goalColumns+` FROM goals WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Goal{}, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	if err != nil {
		return Goal{}, storeErr("load goal", err)
	}
	return row.toGoal(), nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string, status *Status) ([]Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE owner_id = ?`
	args := []any{ownerID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	var rows []goalRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("list goals", err)
	}
	return toGoals(rows), nil
}

// ListOverdue returns active goals whose deadline is before now.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]Goal, error) {
	var rows []goalRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+goalColumns+`
		FROM goals
		WHERE status = 'active' AND deadline < ?
		ORDER BY deadline ASC
		LIMIT ?
	`), db.Millis(now), limit)
	if err != nil {
		return nil, storeErr("list overdue goals", err)
	}
	return toGoals(rows), nil
}

// MarkTerminal moves an active goal to status. It reports false when the goal was not active,
// which is how concurrent resolutions learn they lost.
func (r *Repository) MarkTerminal(ctx context.Context, id string, status Status, key string, now time.Time) (bool, error) {
	ms := db.Millis(now)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE goals
		SET status = ?, resolution_key = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`), string(status), key, ms, ms, id)
	if err != nil {
		return false, storeErr("resolve goal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("resolve goal", err)
	}
	return n == 1, nil
}

func toGoals(rows []goalRow) []Goal {
	out := make([]Goal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toGoal())
	}
	return out
}

// --- collaborations ---

type collaborationRow struct {
	ID              string `db:"id"`
	GoalID          string `db:"goal_id"`
	CollaboratorID  string `db:"collaborator_id"`
	StakeAmount     int64  `db:"stake_amount"`
	WillEarnIfFails bool   `db:"will_earn_if_fails"`
	CreatedAt       int64  `db:"created_at"`
}

func (row collaborationRow) toCollaboration() Collaboration {
	return Collaboration{
		ID:              row.ID,
		GoalID:          row.GoalID,
		CollaboratorID:  row.CollaboratorID,
		StakeAmount:     money.FromMinor(row.StakeAmount),
		WillEarnIfFails: row.WillEarnIfFails,
		CreatedAt:       db.FromMillis(row.CreatedAt),
	}
}

func (r *Repository) InsertCollaboration(ctx context.Context, c Collaboration) error {
	stake, err := money.ToMinor(c.StakeAmount)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO goal_collaborations (id, goal_id, collaborator_id, stake_amount, will_earn_if_fails, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), c.ID, c.GoalID, c.CollaboratorID, stake, c.WillEarnIfFails, db.Millis(c.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyCollaborating, c.CollaboratorID, c.GoalID)
		}
		return storeErr("insert collaboration", err)
	}
	return nil
}

func (r *Repository) ListCollaborations(ctx context.Context, goalID string) ([]Collaboration, error) {
	var rows []collaborationRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, goal_id, collaborator_id, stake_amount, will_earn_if_fails, created_at
		FROM goal_collaborations
		WHERE goal_id = ?
		ORDER BY created_at ASC, id ASC
	`), goalID)
	if err != nil {
		return nil, storeErr("list collaborations", err)
	}

	out := make([]Collaboration, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCollaboration())
	}
	return out, nil
}

// CollaborationOf loads collaboratorID's collaboration on goalID.
func (r *Repository) CollaborationOf(ctx context.Context, goalID, collaboratorID string) (Collaboration, bool, error) {
	var row collaborationRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT id, goal_id, collaborator_id, stake_amount, will_earn_if_fails, created_at
		FROM goal_collaborations
		WHERE goal_id = ? AND collaborator_id = ?
	`), goalID, collaboratorID)
	if errors.Is(err, sql.ErrNoRows) {
		return Collaboration{}, false, nil
	}
	if err != nil {
		return Collaboration{}, false, storeErr("load collaboration", err)
	}
	return row.toCollaboration(), true, nil
}

// ForfeitedStakes sums the stakes accountID lost: its own goals that failed, and collaborations
// whose bet went the wrong way. Stake entries stay as they are on a loss, so the goal state decides.
func (r *Repository) ForfeitedStakes(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var total int64
	err := r.db.GetContext(ctx, &total, r.db.Rebind(`
		SELECT COALESCE(SUM(e.amount), 0)
		FROM ledger_entries e
		LEFT JOIN goals og ON e.related_type = ? AND og.id = e.related_id
		LEFT JOIN goal_collaborations c ON e.related_type = ? AND c.id = e.related_id
		LEFT JOIN goals cg ON cg.id = c.goal_id
		WHERE e.account_id = ? AND e.kind = ?
		  AND (og.status = ?
		    OR (cg.status = ? AND c.will_earn_if_fails = ?)
		    OR (cg.status = ? AND c.will_earn_if_fails = ?))
	`),
		string(ledger.RelatedGoal), string(ledger.RelatedCollaboration), accountID, string(ledger.KindStake),
		string(StatusFailed),
		string(StatusFailed), false,
		string(StatusCompleted), true,
	)
	if err != nil {
		return decimal.Zero, storeErr("sum forfeited stakes", err)
	}
	return money.FromMinor(total).Neg(), nil
}

// --- verifications ---

type verificationRow struct {
	ID               string  `db:"id"`
	GoalID           string  `db:"goal_id"`
	SubmittedBy      string  `db:"submitted_by"`
	VerificationType string  `db:"verification_type"`
	Payload          string  `db:"payload"`
	VerifiedValue    string  `db:"verified_value"`
	IsApproved       bool    `db:"is_approved"`
	ReviewedBy       *string `db:"reviewed_by"`
	ReviewedAt       *int64  `db:"reviewed_at"`
	CreatedAt        int64   `db:"created_at"`
}

func (row verificationRow) toVerification() (Verification, error) {
	var ev Evidence
	if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
		return Verification{}, fmt.Errorf("decode evidence of %s: %w", row.ID, err)
	}
	ev.Type = EvidenceType(row.VerificationType)

	return Verification{
		ID:            row.ID,
		GoalID:        row.GoalID,
		SubmittedBy:   row.SubmittedBy,
		Evidence:      ev,
		VerifiedValue: row.VerifiedValue,
		IsApproved:    row.IsApproved,
		ReviewedBy:    row.ReviewedBy,
		ReviewedAt:    db.TimePtr(row.ReviewedAt),
		CreatedAt:     db.FromMillis(row.CreatedAt),
	}, nil
}

const verificationColumns = `id, goal_id, submitted_by, verification_type, payload, verified_value,
	is_approved, reviewed_by, reviewed_at, created_at`

func (r *Repository) InsertVerification(ctx context.Context, v Verification) error {
	payload, err := json.Marshal(v.Evidence)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), v.ID, v.GoalID, v.SubmittedBy, string(v.Evidence.Type), string(payload), v.VerifiedValue,
		v.IsApproved, v.ReviewedBy, db.NullMillis(v.ReviewedAt), db.Millis(v.CreatedAt))
	if err != nil {
		return storeErr("insert verification", err)
	}
	return nil
}

func (r *Repository) GetVerification(ctx context.Context, id string) (Verification, error) {
	var row verificationRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+verificationColumns+` FROM verifications WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Verification{}, fmt.Errorf("%w: %s", ErrVerificationNotFound, id)
	}
	if err != nil {
		return Verification{}, storeErr("load verification", err)
	}
	return row.toVerification()
}

func (r *Repository) ListVerifications(ctx context.Context, goalID string) ([]Verification, error) {
	var rows []verificationRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+verificationColumns+`
		FROM verifications
		WHERE goal_id = ?
		ORDER BY created_at ASC, id ASC
	`), goalID)
	if err != nil {
		return nil, storeErr("list verifications", err)
	}

	out := make([]Verification, 0, len(rows))
	for _, row := range rows {
		v, err := row.toVerification()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Repository) ApproveVerification(ctx context.Context, id, reviewer string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE verifications
		SET is_approved = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ?
	`), true, reviewer, db.Millis(now), id)
	if err != nil {
		return storeErr("approve verification", err)
	}
	return nil
}

// VerificationCounts returns how many verifications a goal has and how many are approved.
func (r *Repository) VerificationCounts(ctx context.Context, goalID string) (total, approved int, err error) {
	var row struct {
		Total    int  `db:"total"`
		Approved *int `db:"approved"`
	}
	err = r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT COUNT(*) AS total,
		       SUM(CASE WHEN is_approved THEN 1 ELSE 0 END) AS approved
		FROM verifications
		WHERE goal_id = ?
	`), goalID)
	if err != nil {
		return 0, 0, storeErr("count verifications", err)
	}
	if row.Approved != nil {
		approved = *row.Approved
	}
	return row.Total, approved, nil
}

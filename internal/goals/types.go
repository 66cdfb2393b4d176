package goals

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"goalstake-backend/internal/ledger"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func ParseOutcome(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Terminal() {
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidGoal, s)
	}
	return st, nil
}

type GoalType string

const (
	TypeCanvasGrade        GoalType = "canvas_grade"
	TypeHomeworkAssignment GoalType = "homework_assignment"
	TypeSATScore           GoalType = "sat_score"
	TypeMCATScore          GoalType = "mcat_score"
	TypeCollegeBoardExam   GoalType = "college_board_exam"
	TypeCustom             GoalType = "custom"
)

func (t GoalType) Valid() bool {
	switch t {
	case TypeCanvasGrade, TypeHomeworkAssignment, TypeSATScore, TypeMCATScore, TypeCollegeBoardExam, TypeCustom:
		return true
	}
	return false
}

type Goal struct {
	ID                   string          `json:"id"`
	OwnerID              string          `json:"owner_id"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	GoalType             GoalType        `json:"goal_type"`
	TargetValue          string          `json:"target_value,omitempty"`
	Deadline             time.Time       `json:"deadline"`
	StakeAmount          decimal.Decimal `json:"stake_amount"`
	Status               Status          `json:"status"`
	VerificationRequired bool            `json:"verification_required"`
	ResolutionKey        string          `json:"-"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	ResolvedAt           *time.Time      `json:"resolved_at,omitempty"`
}

// NewGoal is the input of CreateGoal.
type NewGoal struct {
	OwnerID     string
	Title       string
	Description string
	GoalType    GoalType
	TargetValue string
	Deadline    time.Time
	StakeAmount decimal.Decimal
	// nil means verification is required.
	VerificationRequired *bool
}

type Collaboration struct {
	ID              string          `json:"id"`
	GoalID          string          `json:"goal_id"`
	CollaboratorID  string          `json:"collaborator_id"`
	StakeAmount     decimal.Decimal `json:"stake_amount"`
	WillEarnIfFails bool            `json:"will_earn_if_fails"`
	CreatedAt       time.Time       `json:"created_at"`
}

// wins reports whether the collaborator's bet matches the outcome.
func (c Collaboration) wins(outcome Status) bool {
	return (outcome == StatusFailed) == c.WillEarnIfFails
}

type EvidenceType string

const (
	EvidencePhoto    EvidenceType = "photo"
	EvidenceDocument EvidenceType = "document"
	EvidenceAPI      EvidenceType = "api"
	EvidenceManual   EvidenceType = "manual"
)

type PhotoEvidence struct {
	ImageURL string    `json:"image_url"`
	TakenAt  time.Time `json:"taken_at"`
}

type DocumentEvidence struct {
	DocumentURL string `json:"document_url"`
	FileName    string `json:"file_name"`
}

type APIEvidence struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	Value     string `json:"value"`
}

type ManualEvidence struct {
	Note string `json:"note"`
}

// Evidence is a tagged variant: Type selects which one of the payload fields is set.
type Evidence struct {
	Type     EvidenceType      `json:"type"`
	Photo    *PhotoEvidence    `json:"photo,omitempty"`
	Document *DocumentEvidence `json:"document,omitempty"`
	API      *APIEvidence      `json:"api,omitempty"`
	Manual   *ManualEvidence   `json:"manual,omitempty"`
}

func (e Evidence) Validate() error {
	set := 0
	for _, p := range []bool{e.Photo != nil, e.Document != nil, e.API != nil, e.Manual != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: evidence must carry exactly one payload", ErrInvalidEvidence)
	}

	switch e.Type {
	case EvidencePhoto:
		if e.Photo == nil || !validURL(e.Photo.ImageURL) || e.Photo.TakenAt.IsZero() {
			return fmt.Errorf("%w: photo needs image_url and taken_at", ErrInvalidEvidence)
		}
	case EvidenceDocument:
		if e.Document == nil || !validURL(e.Document.DocumentURL) || strings.TrimSpace(e.Document.FileName) == "" {
			return fmt.Errorf("%w: document needs document_url and file_name", ErrInvalidEvidence)
		}
	case EvidenceAPI:
		if e.API == nil || e.API.Provider == "" || e.API.Reference == "" {
			return fmt.Errorf("%w: api needs provider and reference", ErrInvalidEvidence)
		}
	case EvidenceManual:
		if e.Manual == nil || strings.TrimSpace(e.Manual.Note) == "" {
			return fmt.Errorf("%w: manual needs a note", ErrInvalidEvidence)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvidence, e.Type)
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

type Verification struct {
	ID            string     `json:"id"`
	GoalID        string     `json:"goal_id"`
	SubmittedBy   string     `json:"submitted_by"`
	Evidence      Evidence   `json:"evidence"`
	VerifiedValue string     `json:"verified_value,omitempty"`
	IsApproved    bool       `json:"is_approved"`
	ReviewedBy    *string    `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Resolution is what a terminal transition settled.
type Resolution struct {
	Goal                  Goal           `json:"goal"`
	OwnerEntry            *ledger.Entry  `json:"owner_entry,omitempty"`
	CollaboratorEntries   []ledger.Entry `json:"collaborator_entries"`
	FailedCollaboratorIDs []string       `json:"failed_collaborator_ids,omitempty"`
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrLeadNotFound    = errors.New("lead not found")
	ErrConflict        = errors.New("transaction conflict")
	ErrInvalidUpdate   = errors.New("invalid lead update")
	ErrInvalidTurn     = errors.New("invalid turn")
	ErrInvalidDedupKey = errors.New("invalid dedup key")
)

const (
	// DefaultHistoryLimit is the number of turns History returns when no limit is given.
	DefaultHistoryLimit = 50

	// DefaultListLimit caps List when the filter does not set a limit.
	DefaultListLimit = 100
)

// LeadUpdate is the set of lead fields a turn may change. A nil field is left untouched;
// a set field replaces the stored value wholesale.
type LeadUpdate struct {
	Entities        models.Entities
	Intent          *string
	Sentiment       *string
	LeadScore       *int
	Urgency         *string
	Confidence      *float64
	SuggestedAction *string
	ChannelContext  models.ChannelContext
}

// IsEmpty reports whether the update changes nothing.
func (u *LeadUpdate) IsEmpty() bool {
	return u.Entities == nil &&
		u.Intent == nil &&
		u.Sentiment == nil &&
		u.LeadScore == nil &&
		u.Urgency == nil &&
		u.Confidence == nil &&
		u.SuggestedAction == nil &&
		u.ChannelContext == nil
}

// Validate rejects updates that would store out of range values.
func (u *LeadUpdate) Validate() error {
	if u == nil || u.IsEmpty() {
		return fmt.Errorf("%w: no fields set", ErrInvalidUpdate)
	}
	if u.LeadScore != nil && (*u.LeadScore < 0 || *u.LeadScore > 100) {
		return fmt.Errorf("%w: lead score %d outside 0..100", ErrInvalidUpdate, *u.LeadScore)
	}
	if u.Confidence != nil && (*u.Confidence < 0 || *u.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside 0..1", ErrInvalidUpdate, *u.Confidence)
	}
	for field := range u.Entities {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("%w: empty entity field name", ErrInvalidUpdate)
		}
	}
	return nil
}

// Apply copies the set fields onto lead. Setting Entities refreshes the stable identifier column with the
// normalized email.
func (u *LeadUpdate) Apply(lead *models.Lead) {
	if u.Entities != nil {
		lead.Entities = u.Entities.Clone()
		lead.Email = lead.Entities.Email()
	}
	if u.Intent != nil {
		lead.Intent = *u.Intent
	}
	if u.Sentiment != nil {
		lead.Sentiment = *u.Sentiment
	}
	if u.LeadScore != nil {
		lead.LeadScore = *u.LeadScore
	}
	if u.Urgency != nil {
		lead.Urgency = *u.Urgency
	}
	if u.Confidence != nil {
		lead.Confidence = *u.Confidence
	}
	if u.SuggestedAction != nil {
		lead.SuggestedAction = *u.SuggestedAction
	}
	if u.ChannelContext != nil {
		lead.ChannelContext = u.ChannelContext.Clone()
	}
}

// LeadFilter narrows List results.
type LeadFilter struct {
	Platform string
	MinScore int
	Limit    int
}

// LeadStore owns the canonical lead record for each dedup key.
type LeadStore interface {
	// ResolveOrCreate atomically upserts the lead for key. A new lead starts with a message count of one;
	// an existing lead gets its message count incremented, last message time bumped and channel context replaced.
	ResolveOrCreate(ctx context.Context, key models.DedupKey, channel models.ChannelContext) (*models.Lead, error)

	// ApplyUpdate changes the fields set in update.
	// Returns ErrInvalidUpdate before writing anything if the update is malformed,
	// and ErrLeadNotFound if the lead no longer exists.
	ApplyUpdate(ctx context.Context, leadID uuid.UUID, update *LeadUpdate) (*models.Lead, error)

	// Get returns ErrLeadNotFound if the lead doesn't exist.
	Get(ctx context.Context, leadID uuid.UUID) (*models.Lead, error)

	// GetByDedupKey returns ErrLeadNotFound if no live lead holds the key.
	GetByDedupKey(ctx context.Context, key models.DedupKey) (*models.Lead, error)

	// List returns the organization's leads, newest first.
	List(ctx context.Context, orgID uuid.UUID, filter LeadFilter) ([]*models.Lead, error)
}

// Ledger is the append-only conversation log of each lead.
type Ledger interface {
	// Append writes one turn, assigning its ID, timestamp and sequence.
	// Returns ErrInvalidTurn for an unknown role or missing lead/org and ErrLeadNotFound if the lead is gone.
	Append(ctx context.Context, turn *models.Turn) error

	// History returns the most recent limit turns of a lead, oldest first.
	History(ctx context.Context, leadID uuid.UUID, limit int) ([]*models.Turn, error)

	// Clear deletes every turn of a lead and returns how many were removed.
	Clear(ctx context.Context, leadID uuid.UUID) (int64, error)

	// Count returns the number of turns owned by a lead.
	Count(ctx context.Context, leadID uuid.UUID) (int, error)
}

// MergeStore holds the primitives of a cross-identity merge. It is only reachable inside a transaction
// so that turn reassignment and source deletion commit or roll back together.
type MergeStore interface {
	// LockLead reads a lead and holds it until the transaction ends.
	// Returns ErrLeadNotFound if the lead doesn't exist.
	LockLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error)

	// FindMergeSource locks the most recently active other lead in the organization carrying email.
	// Returns ErrLeadNotFound when there is none.
	FindMergeSource(ctx context.Context, orgID uuid.UUID, email string, excludeLeadID uuid.UUID) (*models.Lead, error)

	// ReassignTurns moves every turn of source to target and returns how many moved.
	ReassignTurns(ctx context.Context, sourceLeadID, targetLeadID uuid.UUID) (int64, error)

	// SaveMerged writes the merged entities, score, message count and activity window of the target.
	SaveMerged(ctx context.Context, lead *models.Lead) error

	// DeleteLead removes a lead. Returns ErrLeadNotFound if it doesn't exist.
	DeleteLead(ctx context.Context, leadID uuid.UUID) error
}

// Tx exposes the stores bound to one open transaction.
type Tx interface {
	Leads() LeadStore
	Ledger() Ledger
	Merges() MergeStore
}

// Transactor runs fn inside a transaction. The transaction commits when fn returns nil
// and rolls back otherwise, leaving the store exactly as it was.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store bundles the stores of one backend.
type Store interface {
	Transactor

	Organizations() OrganizationStore
	Leads() LeadStore
	Ledger() Ledger
}

// ValidateKey wraps dedup key validation failures in ErrInvalidDedupKey.
func ValidateKey(key models.DedupKey) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDedupKey, err)
	}
	return nil
}

// ValidateTurn checks a turn before it is appended.
func ValidateTurn(turn *models.Turn) error {
	switch {
	case turn == nil:
		return fmt.Errorf("%w: nil turn", ErrInvalidTurn)
	case !turn.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, turn.Role)
	case turn.LeadID == uuid.Nil:
		return fmt.Errorf("%w: lead id is required", ErrInvalidTurn)
	case turn.OrgID == uuid.Nil:
		return fmt.Errorf("%w: organization id is required", ErrInvalidTurn)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

const findSourceAttempts = 2

// mergeStore runs on an open transaction only; row locks last until it commits or rolls back.
type mergeStore struct {
	db querier
}

func (m *mergeStore) LockLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE lead_id = $1 FOR UPDATE`
	return queryLead(ctx, m.db, query, leadID)
}

func (m *mergeStore) FindMergeSource(ctx context.Context, orgID uuid.UUID, email string, excludeLeadID uuid.UUID) (*models.Lead, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: no email", store.ErrLeadNotFound)
	}

	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE organization_id = $1 AND email = $2 AND lead_id <> $3
		ORDER BY last_message_at DESC, created_at DESC
		LIMIT 1
		FOR UPDATE
	`

	// Under READ COMMITTED a LIMIT 1 FOR UPDATE that waited on a row deleted by a concurrent merge
	// returns nothing even when older matches remain, so the lookup is repeated once.
	var lead *models.Lead
	var err error
	for attempt := range findSourceAttempts {
		lead, err = queryLead(ctx, m.db, query, orgID, email, excludeLeadID)
		if !errors.Is(err, store.ErrLeadNotFound) {
			return lead, err
		}
		if attempt+1 < findSourceAttempts {
			log.Debug().Str("org_id", orgID.String()).Msg("Merge source vanished while locking, looking again")
		}
	}
	return nil, err
}

func (m *mergeStore) ReassignTurns(ctx context.Context, sourceLeadID, targetLeadID uuid.UUID) (int64, error) {
	result, err := m.db.Exec(ctx, `UPDATE turns SET lead_id = $2 WHERE lead_id = $1`, sourceLeadID, targetLeadID)
	if err != nil {
		return 0, mapPostgresError(fmt.Errorf("failed to reassign turns: %w", err))
	}
	return result.RowsAffected(), nil
}

func (m *mergeStore) SaveMerged(ctx context.Context, lead *models.Lead) error {
	query := `
		UPDATE leads SET
			entities = $2,
			email = $3,
			lead_score = $4,
			message_count = $5,
			first_message_at = $6,
			last_message_at = $7,
			updated_at = NOW()
		WHERE lead_id = $1
	`

	result, err := m.db.Exec(ctx, query,
		lead.LeadID,
		lead.Entities,
		lead.Email,
		lead.LeadScore,
		lead.MessageCount,
		lead.FirstMessageAt,
		lead.LastMessageAt,
	)
	if err != nil {
		return mapPostgresError(fmt.Errorf("failed to save merged lead: %w", err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrLeadNotFound, lead.LeadID)
	}
	return nil
}

// DeleteLead removes a lead; turns still attached to it go with it through ON DELETE CASCADE.
func (m *mergeStore) DeleteLead(ctx context.Context, leadID uuid.UUID) error {
	result, err := m.db.Exec(ctx, `DELETE FROM leads WHERE lead_id = $1`, leadID)
	if err != nil {
		return mapPostgresError(fmt.Errorf("failed to delete lead: %w", err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrLeadNotFound, leadID)
	}

	log.Debug().Str("lead_id", leadID.String()).Msg("Deleted lead")
	return nil
}

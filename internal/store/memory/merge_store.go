package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

// mergeStore only exists inside WithinTx, which already holds the store lock for the whole transaction,
// so locking a lead is a plain read.
type mergeStore struct {
	access
}

func (m *mergeStore) LockLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	var out *models.Lead
	err := m.do(func(d *dataset) error {
		lead, ok := d.leads[leadID]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, leadID)
		}
		out = lead.Clone()
		return nil
	})
	return out, err
}

func (m *mergeStore) FindMergeSource(ctx context.Context, orgID uuid.UUID, email string, excludeLeadID uuid.UUID) (*models.Lead, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: no email", store.ErrLeadNotFound)
	}

	var out *models.Lead
	err := m.do(func(d *dataset) error {
		var best *models.Lead
		for _, lead := range d.leads {
			if lead.OrgID != orgID || lead.LeadID == excludeLeadID || lead.Email != email {
				continue
			}
			if best == nil || newerThan(lead, best) {
				best = lead
			}
		}
		if best == nil {
			return fmt.Errorf("%w: no other lead with email", store.ErrLeadNotFound)
		}
		out = best.Clone()
		return nil
	})
	return out, err
}

func (m *mergeStore) ReassignTurns(ctx context.Context, sourceLeadID, targetLeadID uuid.UUID) (int64, error) {
	var moved int64
	err := m.do(func(d *dataset) error {
		if _, ok := d.leads[targetLeadID]; !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, targetLeadID)
		}
		for _, turn := range d.turns {
			if turn.LeadID == sourceLeadID {
				turn.LeadID = targetLeadID
				moved++
			}
		}
		return nil
	})
	return moved, err
}

func (m *mergeStore) SaveMerged(ctx context.Context, lead *models.Lead) error {
	return m.do(func(d *dataset) error {
		existing, ok := d.leads[lead.LeadID]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, lead.LeadID)
		}
		existing.Entities = lead.Entities.Clone()
		existing.Email = lead.Email
		existing.LeadScore = lead.LeadScore
		existing.MessageCount = lead.MessageCount
		existing.FirstMessageAt = lead.FirstMessageAt
		existing.LastMessageAt = lead.LastMessageAt
		existing.UpdatedAt = m.now()
		return nil
	})
}

// DeleteLead removes a lead, its dedup key and any turns it still owns.
func (m *mergeStore) DeleteLead(ctx context.Context, leadID uuid.UUID) error {
	return m.do(func(d *dataset) error {
		lead, ok := d.leads[leadID]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, leadID)
		}
		delete(d.leads, leadID)
		delete(d.keys, lead.Key())
		for id, turn := range d.turns {
			if turn.LeadID == leadID {
				delete(d.turns, id)
			}
		}
		return nil
	})
}

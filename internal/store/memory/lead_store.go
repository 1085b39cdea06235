package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

type leadStore struct {
	access
}

// ResolveOrCreate upserts the lead held by key.
func (s *leadStore) ResolveOrCreate(ctx context.Context, key models.DedupKey, channel models.ChannelContext) (*models.Lead, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	var out *models.Lead
	err := s.do(func(d *dataset) error {
		now := s.now()

		if id, ok := d.keys[key]; ok {
			lead := d.leads[id]
			lead.MessageCount++
			lead.LastMessageAt = now
			lead.ChannelContext = channel.Clone()
			lead.UpdatedAt = now
			out = lead.Clone()
			return nil
		}

		lead := &models.Lead{
			LeadID:         uuid.Must(uuid.NewV7()),
			OrgID:          key.OrgID,
			Platform:       key.Platform,
			PlatformUserID: key.PlatformUserID,
			Entities:       models.Entities{},
			ChannelContext: channel.Clone(),
			MessageCount:   1,
			FirstMessageAt: now,
			LastMessageAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		d.leads[lead.LeadID] = lead
		d.keys[key] = lead.LeadID
		out = lead.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ApplyUpdate changes the fields set in update.
func (s *leadStore) ApplyUpdate(ctx context.Context, leadID uuid.UUID, update *store.LeadUpdate) (*models.Lead, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	var out *models.Lead
	err := s.do(func(d *dataset) error {
		lead, ok := d.leads[leadID]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, leadID)
		}
		update.Apply(lead)
		lead.UpdatedAt = s.now()
		out = lead.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Get retrieves a lead by ID.
func (s *leadStore) Get(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	var out *models.Lead
	err := s.do(func(d *dataset) error {
		lead, ok := d.leads[leadID]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, leadID)
		}
		out = lead.Clone()
		return nil
	})
	return out, err
}

// GetByDedupKey retrieves the lead currently holding key.
func (s *leadStore) GetByDedupKey(ctx context.Context, key models.DedupKey) (*models.Lead, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	var out *models.Lead
	err := s.do(func(d *dataset) error {
		id, ok := d.keys[key]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, key)
		}
		out = d.leads[id].Clone()
		return nil
	})
	return out, err
}

// List returns the organization's leads, most recently active first.
func (s *leadStore) List(ctx context.Context, orgID uuid.UUID, filter store.LeadFilter) ([]*models.Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	var out []*models.Lead
	err := s.do(func(d *dataset) error {
		for _, lead := range d.leads {
			if lead.OrgID != orgID {
				continue
			}
			if filter.Platform != "" && lead.Platform != filter.Platform {
				continue
			}
			if lead.LeadScore < filter.MinScore {
				continue
			}
			out = append(out, lead.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return newerThan(out[i], out[j])
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// newerThan orders leads by last activity, then creation time, newest first.
func newerThan(a, b *models.Lead) bool {
	if !a.LastMessageAt.Equal(b.LastMessageAt) {
		return a.LastMessageAt.After(b.LastMessageAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.LeadID.String() > b.LeadID.String()
}

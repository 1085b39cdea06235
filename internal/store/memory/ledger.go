package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

type ledger struct {
	access
}

// Append writes one turn and assigns its ID, timestamp and sequence.
func (l *ledger) Append(ctx context.Context, turn *models.Turn) error {
	if err := store.ValidateTurn(turn); err != nil {
		return err
	}

	return l.do(func(d *dataset) error {
		lead, ok := d.leads[turn.LeadID]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, turn.LeadID)
		}
		if lead.OrgID != turn.OrgID {
			return fmt.Errorf("%w: lead %s belongs to another organization", store.ErrInvalidTurn, turn.LeadID)
		}

		d.seq++
		turn.TurnID = uuid.Must(uuid.NewV7())
		turn.Timestamp = l.now()
		turn.Seq = d.seq
		d.turns[turn.TurnID] = cloneTurn(turn)
		return nil
	})
}

// History returns the most recent limit turns of a lead, oldest first.
func (l *ledger) History(ctx context.Context, leadID uuid.UUID, limit int) ([]*models.Turn, error) {
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	var out []*models.Turn
	err := l.do(func(d *dataset) error {
		out = turnsOf(d, leadID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Clear deletes every turn of a lead.
func (l *ledger) Clear(ctx context.Context, leadID uuid.UUID) (int64, error) {
	var removed int64
	err := l.do(func(d *dataset) error {
		for id, turn := range d.turns {
			if turn.LeadID == leadID {
				delete(d.turns, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Count returns the number of turns owned by a lead.
func (l *ledger) Count(ctx context.Context, leadID uuid.UUID) (int, error) {
	var n int
	err := l.do(func(d *dataset) error {
		for _, turn := range d.turns {
			if turn.LeadID == leadID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// turnsOf returns copies of a lead's turns ordered by (timestamp, seq).
func turnsOf(d *dataset, leadID uuid.UUID) []*models.Turn {
	var out []*models.Turn
	for _, turn := range d.turns {
		if turn.LeadID == leadID {
			out = append(out, cloneTurn(turn))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

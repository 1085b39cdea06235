package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

const turnColumns = `turn_id, lead_id, organization_id, role, content, intent, sentiment, extracted_entities, occurred_at, seq`

type ledger struct {
	db           querier
	historyLimit int
}

// Append inserts the turn only if its lead exists in the same organization.
func (l *ledger) Append(ctx context.Context, turn *models.Turn) error {
	if err := store.ValidateTurn(turn); err != nil {
		return err
	}

	query := `
		INSERT INTO turns (
			turn_id, lead_id, organization_id, role, content, intent, sentiment, extracted_entities
		)
		SELECT $1::uuid, l.lead_id, l.organization_id, $4::text, $5::text, $6::text, $7::text, COALESCE($8::jsonb, '{}'::jsonb)
		FROM leads l
		WHERE l.lead_id = $2::uuid AND l.organization_id = $3::uuid
		RETURNING occurred_at, seq
	`

	turnID := uuid.Must(uuid.NewV7())
	err := l.db.QueryRow(ctx, query,
		turnID,
		turn.LeadID,
		turn.OrgID,
		string(turn.Role),
		turn.Content,
		turn.Intent,
		turn.Sentiment,
		turn.ExtractedEntities,
	).Scan(&turn.Timestamp, &turn.Seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrLeadNotFound, turn.LeadID)
		}
		return mapPostgresError(fmt.Errorf("failed to append turn: %w", err))
	}

	turn.TurnID = turnID
	return nil
}

// History selects the newest limit turns and returns them oldest first.
func (l *ledger) History(ctx context.Context, leadID uuid.UUID, limit int) ([]*models.Turn, error) {
	if limit <= 0 {
		limit = l.historyLimit
	}
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	query := `
		SELECT ` + turnColumns + `
		FROM (
			SELECT ` + turnColumns + `
			FROM turns
			WHERE lead_id = $1
			ORDER BY occurred_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY occurred_at ASC, seq ASC
	`

	rows, err := l.db.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to load history: %w", err))
	}
	defer rows.Close()

	var turns []*models.Turn
	for rows.Next() {
		var (
			turn models.Turn
			role string
		)
		err := rows.Scan(
			&turn.TurnID,
			&turn.LeadID,
			&turn.OrgID,
			&role,
			&turn.Content,
			&turn.Intent,
			&turn.Sentiment,
			&turn.ExtractedEntities,
			&turn.Timestamp,
			&turn.Seq,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = models.Role(role)
		turns = append(turns, &turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

// Clear deletes every turn of a lead.
func (l *ledger) Clear(ctx context.Context, leadID uuid.UUID) (int64, error) {
	result, err := l.db.Exec(ctx, `DELETE FROM turns WHERE lead_id = $1`, leadID)
	if err != nil {
		return 0, mapPostgresError(fmt.Errorf("failed to clear turns: %w", err))
	}
	return result.RowsAffected(), nil
}

// Count returns the number of turns owned by a lead.
func (l *ledger) Count(ctx context.Context, leadID uuid.UUID) (int, error) {
	var n int
	if err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM turns WHERE lead_id = $1`, leadID).Scan(&n); err != nil {
		return 0, mapPostgresError(fmt.Errorf("failed to count turns: %w", err))
	}
	return n, nil
}

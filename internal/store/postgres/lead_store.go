package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

const leadColumns = `lead_id, organization_id, platform, platform_user_id,
	entities, email, intent, sentiment, lead_score, urgency, confidence, suggested_action, channel_context,
	message_count, first_message_at, last_message_at, created_at, updated_at`

type leadStore struct {
	db querier

	// retry is set when each call runs in its own implicit transaction.
	retry *store.RetryConfig
}

// ResolveOrCreate upserts on the dedup key so concurrent first messages collapse into one row.
func (s *leadStore) ResolveOrCreate(ctx context.Context, key models.DedupKey, channel models.ChannelContext) (*models.Lead, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO leads (
			lead_id, organization_id, platform, platform_user_id, channel_context
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (organization_id, platform, platform_user_id) DO UPDATE SET
			message_count = leads.message_count + 1,
			last_message_at = NOW(),
			channel_context = EXCLUDED.channel_context,
			updated_at = NOW()
		RETURNING ` + leadColumns

	lead, err := s.withRetry(ctx, func() (*models.Lead, error) {
		lead, err := scanLead(s.db.QueryRow(ctx, query,
			uuid.Must(uuid.NewV7()),
			key.OrgID,
			key.Platform,
			key.PlatformUserID,
			channel,
		))
		if err != nil {
			return nil, mapPostgresError(fmt.Errorf("failed to resolve lead: %w", err))
		}
		return lead, nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("lead_id", lead.LeadID.String()).
		Str("dedup_key", key.String()).
		Int("message_count", lead.MessageCount).
		Msg("Resolved lead")

	return lead, nil
}

// ApplyUpdate writes only the columns set in update.
func (s *leadStore) ApplyUpdate(ctx context.Context, leadID uuid.UUID, update *store.LeadUpdate) (*models.Lead, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	query, args := buildLeadUpdate(leadID, update)

	return s.withRetry(ctx, func() (*models.Lead, error) {
		lead, err := scanLead(s.db.QueryRow(ctx, query, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", store.ErrLeadNotFound, leadID)
			}
			return nil, mapPostgresError(fmt.Errorf("failed to update lead: %w", err))
		}
		return lead, nil
	})
}

// buildLeadUpdate renders the UPDATE for the fields set in update. Column names come from this
// fixed list, never from caller input.
func buildLeadUpdate(leadID uuid.UUID, u *store.LeadUpdate) (string, []any) {
	args := []any{leadID}
	var sets []string

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Entities != nil {
		set("entities", u.Entities)
		set("email", u.Entities.Email())
	}
	if u.Intent != nil {
		set("intent", *u.Intent)
	}
	if u.Sentiment != nil {
		set("sentiment", *u.Sentiment)
	}
	if u.LeadScore != nil {
		set("lead_score", *u.LeadScore)
	}
	if u.Urgency != nil {
		set("urgency", *u.Urgency)
	}
	if u.Confidence != nil {
		set("confidence", *u.Confidence)
	}
	if u.SuggestedAction != nil {
		set("suggested_action", *u.SuggestedAction)
	}
	if u.ChannelContext != nil {
		set("channel_context", u.ChannelContext)
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE leads SET ` + strings.Join(sets, ", ") + ` WHERE lead_id = $1 RETURNING ` + leadColumns
	return query, args
}

// Get retrieves a lead by ID.
func (s *leadStore) Get(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE lead_id = $1`
	return queryLead(ctx, s.db, query, leadID)
}

// GetByDedupKey retrieves the lead currently holding key.
func (s *leadStore) GetByDedupKey(ctx context.Context, key models.DedupKey) (*models.Lead, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE organization_id = $1 AND platform = $2 AND platform_user_id = $3
	`
	return queryLead(ctx, s.db, query, key.OrgID, key.Platform, key.PlatformUserID)
}

// List returns the organization's leads, most recently active first.
func (s *leadStore) List(ctx context.Context, orgID uuid.UUID, filter store.LeadFilter) ([]*models.Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE organization_id = $1
		  AND ($2 = '' OR platform = $2)
		  AND lead_score >= $3
		ORDER BY last_message_at DESC, created_at DESC
		LIMIT $4
	`

	rows, err := s.db.Query(ctx, query, orgID, filter.Platform, filter.MinScore, limit)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to list leads: %w", err))
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}

	return leads, nil
}

func (s *leadStore) withRetry(ctx context.Context, op func() (*models.Lead, error)) (*models.Lead, error) {
	if s.retry == nil {
		return op()
	}
	return store.RetryOnConflict(ctx, *s.retry, op)
}

func queryLead(ctx context.Context, db querier, query string, args ...any) (*models.Lead, error) {
	lead, err := scanLead(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrLeadNotFound
		}
		return nil, mapPostgresError(fmt.Errorf("failed to get lead: %w", err))
	}
	return lead, nil
}

func scanLead(row pgx.Row) (*models.Lead, error) {
	var lead models.Lead
	err := row.Scan(
		&lead.LeadID,
		&lead.OrgID,
		&lead.Platform,
		&lead.PlatformUserID,
		&lead.Entities,
		&lead.Email,
		&lead.Intent,
		&lead.Sentiment,
		&lead.LeadScore,
		&lead.Urgency,
		&lead.Confidence,
		&lead.SuggestedAction,
		&lead.ChannelContext,
		&lead.MessageCount,
		&lead.FirstMessageAt,
		&lead.LastMessageAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lead.Entities == nil {
		lead.Entities = models.Entities{}
	}
	return &lead, nil
}

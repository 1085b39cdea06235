package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

const organizationColumns = `organization_id, name, COALESCE(api_key, ''), active, created_at, updated_at`

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
type OrganizationStore struct {
	db querier
}

// NewOrganizationStore creates a new PostgreSQL-backed organization store.
// It shares the connection pool with other stores.
func NewOrganizationStore(db querier) *OrganizationStore {
	return &OrganizationStore{
		db: db,
	}
}

// Create creates a new organization in the database.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (
			organization_id, name, api_key, active, created_at, updated_at
		) VALUES (
			$1, $2, NULLIF($3, ''), $4, $5, $6
		)
	`

	_, err := s.db.Exec(ctx, query,
		org.OrgID,
		org.Name,
		org.APIKey,
		org.Active,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("name", org.Name).
		Msg("Created organization")

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE organization_id = $1`
	return s.queryOne(ctx, query, orgID)
}

// GetByAPIKey retrieves an active organization by API key.
func (s *OrganizationStore) GetByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error) {
	if apiKey == "" {
		return nil, store.ErrOrganizationNotFound
	}
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE api_key = $1 AND active`
	return s.queryOne(ctx, query, apiKey)
}

// GetDefault returns the oldest active organization.
func (s *OrganizationStore) GetDefault(ctx context.Context) (*models.Organization, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM organizations
		WHERE active
		ORDER BY created_at ASC, organization_id ASC
		LIMIT 1
	`
	return s.queryOne(ctx, query)
}

// List returns all organizations, oldest first.
func (s *OrganizationStore) List(ctx context.Context) ([]*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations ORDER BY created_at ASC, organization_id ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}

	return orgs, nil
}

func (s *OrganizationStore) queryOne(ctx context.Context, query string, args ...any) (*models.Organization, error) {
	org, err := scanOrganization(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var org models.Organization
	err := row.Scan(
		&org.OrgID,
		&org.Name,
		&org.APIKey,
		&org.Active,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

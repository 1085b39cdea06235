package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
)

// OrganizationStore defines the interface for organization storage operations.
// Organizations are the tenants every lead and turn is scoped to.
type OrganizationStore interface {
	// Create creates a new organization in the store.
	// Returns ErrOrganizationAlreadyExists if an organization with the same ID or API key already exists.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// GetByAPIKey retrieves an active organization by its API key.
	// Returns ErrOrganizationNotFound if no active organization uses the key.
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error)

	// GetDefault returns the oldest active organization, used by single tenant deployments
	// and channels that carry no API key.
	// Returns ErrOrganizationNotFound if there are no active organizations.
	GetDefault(ctx context.Context) (*models.Organization, error)

	// List returns all organizations, oldest first.
	List(ctx context.Context) ([]*models.Organization, error)
}

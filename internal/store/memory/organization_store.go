package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

// OrganizationStore implements store.OrganizationStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type OrganizationStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization // org_id -> Organization
}

// NewOrganizationStore creates a new in-memory organization store.
func NewOrganizationStore() *OrganizationStore {
	return &OrganizationStore{
		organizations: make(map[uuid.UUID]*models.Organization),
	}
}

// Create creates a new organization in memory.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if organization already exists
	if _, exists := s.organizations[org.OrgID]; exists {
		return store.ErrOrganizationAlreadyExists
	}
	for _, existing := range s.organizations {
		if org.APIKey != "" && existing.APIKey == org.APIKey {
			return store.ErrOrganizationAlreadyExists
		}
	}

	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	// Clone to avoid external modifications
	clone := *org
	s.organizations[org.OrgID] = &clone

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	// Clone to avoid external modifications
	clone := *org
	return &clone, nil
}

// GetByAPIKey retrieves an active organization by API key.
func (s *OrganizationStore) GetByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, org := range s.organizations {
		if org.Active && apiKey != "" && org.APIKey == apiKey {
			clone := *org
			return &clone, nil
		}
	}

	return nil, store.ErrOrganizationNotFound
}

// GetDefault returns the oldest active organization.
func (s *OrganizationStore) GetDefault(ctx context.Context) (*models.Organization, error) {
	orgs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, org := range orgs {
		if org.Active {
			return org, nil
		}
	}

	return nil, store.ErrOrganizationNotFound
}

// List returns all organizations, oldest first.
func (s *OrganizationStore) List(ctx context.Context) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		// Clone to avoid external modifications
		clone := *org
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].OrgID.String() < result[j].OrgID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

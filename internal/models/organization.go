package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant. Every lead and turn is scoped to exactly one organization.
type Organization struct {
	OrgID     uuid.UUID // UUIDv7
	Name      string
	APIKey    string // presented by channel front-ends to select the tenant
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

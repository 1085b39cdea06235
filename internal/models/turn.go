package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a lead's conversation. Only LeadID may change after the turn is written,
// and only when a merge moves the turn to the surviving lead.
type Turn struct {
	TurnID            uuid.UUID
	LeadID            uuid.UUID
	OrgID             uuid.UUID
	Role              Role
	Content           string
	Intent            string
	Sentiment         string
	ExtractedEntities Entities
	Timestamp         time.Time
	Seq               int64 // insertion order, breaks timestamp ties
}

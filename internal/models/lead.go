package models

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well known channel names.
const (
	PlatformWeb      = "web"
	PlatformTelegram = "telegram"
)

// Well known entity fields. EntityEmail is the stable identifier used to link sessions.
const (
	EntityName    = "name"
	EntityEmail   = "email"
	EntityPhone   = "phone"
	EntityCompany = "company"
)

// DedupKey identifies one channel session identity. At most one live lead exists per key.
type DedupKey struct {
	OrgID          uuid.UUID
	Platform       string
	PlatformUserID string
}

// Validate checks that every component of the key is present.
func (k DedupKey) Validate() error {
	if k.OrgID == uuid.Nil {
		return errors.New("organization id is required")
	}
	if strings.TrimSpace(k.Platform) == "" {
		return errors.New("platform is required")
	}
	if strings.TrimSpace(k.PlatformUserID) == "" {
		return errors.New("platform user id is required")
	}
	return nil
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OrgID, k.Platform, k.PlatformUserID)
}

// NormalizeEmail lowercases and trims an email so stable identifiers compare exactly.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Entities holds facts extracted about a lead, keyed by field name.
type Entities map[string]string

// Email returns the normalized stable identifier, or "" when there is none.
func (e Entities) Email() string {
	return NormalizeEmail(e[EntityEmail])
}

// Clone returns a copy that can be mutated without affecting the receiver.
func (e Entities) Clone() Entities {
	out := make(Entities, len(e))
	maps.Copy(out, e)
	return out
}

// ChannelContext is the channel specific metadata snapshot of the current session
// (browser, location, telegram profile and so on). It is replaced, never merged.
type ChannelContext map[string]any

// Clone returns a shallow copy.
func (c ChannelContext) Clone() ChannelContext {
	if c == nil {
		return nil
	}
	out := make(ChannelContext, len(c))
	maps.Copy(out, c)
	return out
}

// Lead is the canonical record for one real world contact candidate.
type Lead struct {
	LeadID         uuid.UUID // UUIDv7
	OrgID          uuid.UUID
	Platform       string
	PlatformUserID string

	Entities        Entities
	Email           string // mirror of Entities[EntityEmail], indexed for merge lookups
	Intent          string
	Sentiment       string
	LeadScore       int
	Urgency         string
	Confidence      float64
	SuggestedAction string
	ChannelContext  ChannelContext

	MessageCount   int
	FirstMessageAt time.Time
	LastMessageAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key returns the dedup key the lead was resolved under.
func (l *Lead) Key() DedupKey {
	return DedupKey{OrgID: l.OrgID, Platform: l.Platform, PlatformUserID: l.PlatformUserID}
}

// Clone returns a deep enough copy for stores to hand out without sharing maps.
func (l *Lead) Clone() *Lead {
	clone := *l
	clone.Entities = l.Entities.Clone()
	clone.ChannelContext = l.ChannelContext.Clone()
	return &clone
}

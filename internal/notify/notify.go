// Package notify fans lead events out to the sales team.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leadlink/internal/models"
)

// SalesAlert is raised when a turn leaves a lead worth a human follow up.
type SalesAlert struct {
	OrgID           uuid.UUID       `json:"organization_id"`
	LeadID          uuid.UUID       `json:"lead_id"`
	Platform        string          `json:"platform"`
	PlatformUserID  string          `json:"platform_user_id"`
	LeadScore       int             `json:"lead_score"`
	Intent          string          `json:"intent"`
	Urgency         string          `json:"urgency"`
	SuggestedAction string          `json:"suggested_action"`
	Entities        models.Entities `json:"entities"`
	Message         string          `json:"message"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// NewSalesAlert builds an alert from the lead as it stands after the turn.
func NewSalesAlert(lead *models.Lead, message string) *SalesAlert {
	return &SalesAlert{
		OrgID:           lead.OrgID,
		LeadID:          lead.LeadID,
		Platform:        lead.Platform,
		PlatformUserID:  lead.PlatformUserID,
		LeadScore:       lead.LeadScore,
		Intent:          lead.Intent,
		Urgency:         lead.Urgency,
		SuggestedAction: lead.SuggestedAction,
		Entities:        lead.Entities.Clone(),
		Message:         message,
		OccurredAt:      time.Now().UTC(),
	}
}

// MergeEvent records that two leads were consolidated.
type MergeEvent struct {
	OrgID        uuid.UUID `json:"organization_id"`
	TargetLeadID uuid.UUID `json:"target_lead_id"`
	SourceLeadID uuid.UUID `json:"source_lead_id"`
	TurnsMoved   int64     `json:"turns_moved"`
	Email        string    `json:"email"`
	LeadScore    int       `json:"lead_score"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Notifier delivers lead events. Delivery failures never undo the turn that raised them.
type Notifier interface {
	SalesAlert(ctx context.Context, alert *SalesAlert) error
	LeadsMerged(ctx context.Context, event *MergeEvent) error
}

var _ Notifier = LogNotifier{}

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) SalesAlert(_ context.Context, alert *SalesAlert) error {
	log.Info().
		Str("org_id", alert.OrgID.String()).
		Str("lead_id", alert.LeadID.String()).
		Str("platform", alert.Platform).
		Int("lead_score", alert.LeadScore).
		Str("intent", alert.Intent).
		Str("urgency", alert.Urgency).
		Msg("Sales alert")
	return nil
}

func (LogNotifier) LeadsMerged(_ context.Context, event *MergeEvent) error {
	log.Info().
		Str("org_id", event.OrgID.String()).
		Str("target_lead_id", event.TargetLeadID.String()).
		Str("source_lead_id", event.SourceLeadID.String()).
		Int64("turns_moved", event.TurnsMoved).
		Msg("Leads merged")
	return nil
}

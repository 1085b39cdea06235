package accumulator

import (
	"github.com/wolfeidau/leadlink/internal/models"
)

// MergeLeads folds source into target and returns the surviving record; neither input is modified.
//
// Target is the identity currently speaking, so its entity fields win on overlap and its intent, sentiment,
// urgency, confidence and channel context are kept. The score never regresses (max of both sides), message
// counts add up, and the activity window widens to cover both leads.
func MergeLeads(source, target *models.Lead) *models.Lead {
	merged := target.Clone()

	entities := NormalizeEntities(source.Entities)
	for field, value := range NormalizeEntities(target.Entities) {
		entities[field] = value
	}
	merged.Entities = entities
	merged.Email = StableIdentifier(entities)

	merged.LeadScore = max(source.LeadScore, target.LeadScore)
	merged.MessageCount = source.MessageCount + target.MessageCount

	if !source.FirstMessageAt.IsZero() && (merged.FirstMessageAt.IsZero() || source.FirstMessageAt.Before(merged.FirstMessageAt)) {
		merged.FirstMessageAt = source.FirstMessageAt
	}
	if source.LastMessageAt.After(merged.LastMessageAt) {
		merged.LastMessageAt = source.LastMessageAt
	}

	return merged
}

// Package accumulator folds per-turn extraction results and merged identities into the canonical lead state.
// Everything here is pure: no I/O, no clocks, inputs are never mutated.
package accumulator

import (
	"strings"

	"github.com/wolfeidau/leadlink/internal/models"
)

// State is the part of a lead that turns accumulate into.
type State struct {
	Entities        models.Entities
	LeadScore       int
	Intent          string
	Sentiment       string
	Urgency         string
	Confidence      float64
	SuggestedAction string
}

// Extraction is one turn's read of the conversation as returned by the NLU collaborator.
type Extraction struct {
	NewEntities     map[string]*string
	Intent          string
	Sentiment       string
	LeadScore       int
	Urgency         string
	Confidence      float64
	SuggestedAction string
}

// MergeTurn combines prior state with one turn's extraction.
//
// Entities are a shallow union where the new turn wins per field and fields it doesn't mention are kept.
// The score is replaced because the collaborator scores from the full history; the remaining signals are latest-wins.
func MergeTurn(prior State, ex Extraction) State {
	next := State{
		Entities:        NormalizeEntities(prior.Entities),
		LeadScore:       ClampScore(ex.LeadScore),
		Intent:          ex.Intent,
		Sentiment:       ex.Sentiment,
		Urgency:         ex.Urgency,
		Confidence:      clampConfidence(ex.Confidence),
		SuggestedAction: ex.SuggestedAction,
	}

	for field, value := range normalizeNullable(ex.NewEntities) {
		next.Entities[field] = value
	}

	return next
}

// StateOf extracts the accumulated state of a lead.
func StateOf(lead *models.Lead) State {
	return State{
		Entities:        lead.Entities.Clone(),
		LeadScore:       lead.LeadScore,
		Intent:          lead.Intent,
		Sentiment:       lead.Sentiment,
		Urgency:         lead.Urgency,
		Confidence:      lead.Confidence,
		SuggestedAction: lead.SuggestedAction,
	}
}

// NormalizeEntities trims values, drops empty ones and canonicalizes the stable identifier.
// The result is always a fresh non-nil map.
func NormalizeEntities(in models.Entities) models.Entities {
	out := make(models.Entities, len(in))
	for field, value := range in {
		field = strings.ToLower(strings.TrimSpace(field))
		if v, ok := normalizeValue(field, value); ok {
			out[field] = v
		}
	}
	return out
}

// NormalizeEmail lowercases and trims an email so stable identifiers compare exactly.
func NormalizeEmail(email string) string {
	return models.NormalizeEmail(email)
}

// StableIdentifier returns the normalized email of entities, or "" when there is none.
func StableIdentifier(entities models.Entities) string {
	return entities.Email()
}

// ClampScore bounds a score to 0..100.
func ClampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func normalizeNullable(in map[string]*string) models.Entities {
	out := make(models.Entities, len(in))
	for field, value := range in {
		if value == nil {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		if v, ok := normalizeValue(field, *value); ok {
			out[field] = v
		}
	}
	return out
}

func normalizeValue(field, value string) (string, bool) {
	if field == "" {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if field == models.EntityEmail {
		value = NormalizeEmail(value)
	}
	return value, true
}

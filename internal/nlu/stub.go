package nlu

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Stub is a deterministic analyzer for tests and local development. It finds email addresses,
// scores on a few buying keywords and echoes the message back.
type Stub struct {
	// Err, when set, is returned by every call wrapped in ErrCollaborator.
	Err error

	calls atomic.Int64
}

// Calls returns how many times Analyze was invoked.
func (s *Stub) Calls() int64 {
	return s.calls.Load()
}

var buyingSignals = map[string]int{
	"price":   20,
	"pricing": 20,
	"buy":     30,
	"demo":    25,
	"quote":   25,
	"urgent":  15,
}

// Analyze returns a canned analysis derived only from the message and known entities.
func (s *Stub) Analyze(_ context.Context, req *Request) (*Response, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, s.Err)
	}

	lower := strings.ToLower(req.Message)
	score := 10
	intent := "general"
	for word, weight := range buyingSignals {
		if strings.Contains(lower, word) {
			score += weight
			intent = "purchase"
		}
	}
	score = min(score, 100)

	entities := map[string]*string{}
	if email := emailPattern.FindString(req.Message); email != "" {
		entities["email"] = &email
	}

	urgency := "medium"
	if strings.Contains(lower, "urgent") {
		urgency = "high"
	}

	return &Response{
		UserID:   req.UserID,
		Platform: req.Platform,
		Response: "Thanks, you said: " + req.Message,
		Success:  true,
		Metadata: Metadata{
			NewEntities:       entities,
			Intent:            intent,
			Sentiment:         "neutral",
			Confidence:        0.8,
			LeadScore:         score,
			Urgency:           urgency,
			SuggestedAction:   "follow_up",
			ShouldNotifySales: score >= 70,
		},
	}, nil
}

// Package nlu talks to the conversation analysis service that turns a user message into a reply and
// a structured read of the conversation.
package nlu

import (
	"context"
	"errors"
)

// ErrCollaborator is returned when the analysis service fails, times out or answers unsuccessfully.
var ErrCollaborator = errors.New("nlu collaborator failure")

// HistoryMessage is one prior turn sent as context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body posted to the analysis service.
type Request struct {
	UserID        string            `json:"user_id"`
	Platform      string            `json:"platform"`
	Message       string            `json:"message"`
	History       []HistoryMessage  `json:"history"`
	PlatformData  map[string]any    `json:"platform_data"`
	KnownEntities map[string]string `json:"known_entities"`
}

// Metadata is the structured analysis of the conversation so far.
type Metadata struct {
	NewEntities       map[string]*string `json:"new_entities"`
	Intent            string             `json:"intent"`
	Sentiment         string             `json:"sentiment"`
	Confidence        float64            `json:"confidence"`
	LeadScore         int                `json:"lead_score"`
	Urgency           string             `json:"urgency"`
	SuggestedAction   string             `json:"suggested_action"`
	ShouldNotifySales bool               `json:"should_notify_sales"`
}

// Response is the analysis service reply.
type Response struct {
	UserID   string   `json:"user_id"`
	Platform string   `json:"platform"`
	Response string   `json:"response"`
	Success  bool     `json:"success"`
	Metadata Metadata `json:"metadata"`
}

// Analyzer produces the assistant reply and analysis for one turn. Calls are not idempotent
// and must not be retried.
type Analyzer interface {
	Analyze(ctx context.Context, req *Request) (*Response, error)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/leadlink/internal/intake"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

// maxBodyBytes caps chat request bodies.
const maxBodyBytes = 64 << 10

// TurnProcessor handles one inbound message.
type TurnProcessor interface {
	Process(ctx context.Context, msg *intake.Message) (*intake.Reply, error)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	UserID       string         `json:"user_id"`
	Message      string         `json:"message"`
	Platform     string         `json:"platform"`
	PlatformData map[string]any `json:"platform_data"`
	MessageID    string         `json:"message_id,omitempty"`
}

// ChatResponse is the reply to POST /api/chat.
type ChatResponse struct {
	UserID    string    `json:"user_id"`
	Response  string    `json:"response"`
	LeadID    string    `json:"lead_id,omitempty"`
	LeadScore int       `json:"lead_score"`
	Intent    string    `json:"intent,omitempty"`
	Merged    bool      `json:"merged"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadView is the JSON shape of a lead.
type LeadView struct {
	LeadID          string                `json:"lead_id"`
	Platform        string                `json:"platform"`
	PlatformUserID  string                `json:"platform_user_id"`
	Entities        models.Entities       `json:"entities"`
	Intent          string                `json:"intent"`
	Sentiment       string                `json:"sentiment"`
	LeadScore       int                   `json:"lead_score"`
	Urgency         string                `json:"urgency"`
	Confidence      float64               `json:"confidence"`
	SuggestedAction string                `json:"suggested_action"`
	ChannelContext  models.ChannelContext `json:"channel_context,omitempty"`
	MessageCount    int                   `json:"message_count"`
	FirstMessageAt  time.Time             `json:"first_message_at"`
	LastMessageAt   time.Time             `json:"last_message_at"`
}

// TurnView is the JSON shape of a conversation turn.
type TurnView struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Intent    string          `json:"intent,omitempty"`
	Sentiment string          `json:"sentiment,omitempty"`
	Entities  models.Entities `json:"extracted_entities,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChatHandlers serves the chat API.
type ChatHandlers struct {
	processor TurnProcessor
	store     store.Store
}

// NewChatHandlers creates the chat API handlers.
func NewChatHandlers(processor TurnProcessor, st store.Store) *ChatHandlers {
	return &ChatHandlers{processor: processor, store: st}
}

// Chat handles POST /api/chat.
func (h *ChatHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	org, _ := OrganizationFromContext(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Platform == "" {
		req.Platform = models.PlatformWeb
	}
	if req.UserID == "" {
		req.UserID = intake.NewWebUserID()
	}

	reply, err := h.processor.Process(r.Context(), &intake.Message{
		Key:            models.DedupKey{OrgID: org.OrgID, Platform: req.Platform, PlatformUserID: req.UserID},
		Content:        req.Message,
		ChannelContext: channelContext(r, &req),
		MessageID:      req.MessageID,
	})
	switch {
	case errors.Is(err, intake.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", req.UserID).Msg("Chat turn failed")
		writeError(w, http.StatusBadGateway, "assistant unavailable, please try again")
		return
	}

	resp := ChatResponse{
		UserID:    req.UserID,
		Response:  reply.Response,
		Merged:    reply.Merge != nil,
		Duplicate: reply.Duplicate,
		Timestamp: time.Now().UTC(),
	}
	if reply.Lead != nil {
		resp.LeadID = reply.Lead.LeadID.String()
		resp.LeadScore = reply.Lead.LeadScore
		resp.Intent = reply.Lead.Intent
	}

	writeJSON(w, http.StatusOK, resp)
}

// Conversation handles GET /api/conversation/{userID}.
func (h *ChatHandlers) Conversation(w http.ResponseWriter, r *http.Request) {
	lead, ok := h.lookupLead(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	turns, err := h.store.Ledger().History(r.Context(), lead.LeadID, limit)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	conversation := make([]TurnView, 0, len(turns))
	for _, turn := range turns {
		conversation = append(conversation, TurnView{
			Role:      string(turn.Role),
			Content:   turn.Content,
			Intent:    turn.Intent,
			Sentiment: turn.Sentiment,
			Entities:  turn.ExtractedEntities,
			Timestamp: turn.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      lead.PlatformUserID,
		"lead":         leadView(lead),
		"conversation": conversation,
	})
}

// ClearConversation handles DELETE /api/conversation/{userID}.
func (h *ChatHandlers) ClearConversation(w http.ResponseWriter, r *http.Request) {
	lead, ok := h.lookupLead(w, r)
	if !ok {
		return
	}

	removed, err := h.store.Ledger().Clear(r.Context(), lead.LeadID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "conversation cleared",
		"removed": removed,
	})
}

// Leads handles GET /api/leads.
func (h *ChatHandlers) Leads(w http.ResponseWriter, r *http.Request) {
	org, _ := OrganizationFromContext(r.Context())
	q := r.URL.Query()

	filter := store.LeadFilter{Platform: q.Get("platform")}
	filter.MinScore, _ = strconv.Atoi(q.Get("min_score"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	leads, err := h.store.Leads().List(r.Context(), org.OrgID, filter)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	views := make([]LeadView, 0, len(leads))
	for _, lead := range leads {
		views = append(views, leadView(lead))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"leads": views,
		"count": len(views),
	})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (h *ChatHandlers) lookupLead(w http.ResponseWriter, r *http.Request) (*models.Lead, bool) {
	org, _ := OrganizationFromContext(r.Context())

	platform := r.URL.Query().Get("platform")
	if platform == "" {
		platform = models.PlatformWeb
	}

	key := models.DedupKey{OrgID: org.OrgID, Platform: platform, PlatformUserID: chi.URLParam(r, "userID")}
	lead, err := h.store.Leads().GetByDedupKey(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrLeadNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
		return nil, false
	case errors.Is(err, store.ErrInvalidDedupKey):
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	case err != nil:
		h.internalError(w, r, err)
		return nil, false
	}

	return lead, true
}

func (h *ChatHandlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// channelContext snapshots the sender's channel metadata. Web requests are enriched from the HTTP request.
func channelContext(r *http.Request, req *ChatRequest) models.ChannelContext {
	cc := models.ChannelContext{}
	for k, v := range req.PlatformData {
		cc[k] = v
	}
	cc["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	if req.Platform != models.PlatformWeb {
		return cc
	}

	if ip := ClientIPFromContext(r.Context()); ip != "" {
		cc["ip"] = ip
	}
	if ua := r.UserAgent(); ua != "" {
		cc["user_agent"] = ua
	}
	if ref := r.Referer(); ref != "" {
		cc["referrer"] = ref
	}
	if lang, _, _ := strings.Cut(r.Header.Get("Accept-Language"), ","); lang != "" {
		cc["language"] = strings.TrimSpace(lang)
	}

	return cc
}

func leadView(lead *models.Lead) LeadView {
	return LeadView{
		LeadID:          lead.LeadID.String(),
		Platform:        lead.Platform,
		PlatformUserID:  lead.PlatformUserID,
		Entities:        lead.Entities,
		Intent:          lead.Intent,
		Sentiment:       lead.Sentiment,
		LeadScore:       lead.LeadScore,
		Urgency:         lead.Urgency,
		Confidence:      lead.Confidence,
		SuggestedAction: lead.SuggestedAction,
		ChannelContext:  lead.ChannelContext,
		MessageCount:    lead.MessageCount,
		FirstMessageAt:  lead.FirstMessageAt,
		LastMessageAt:   lead.LastMessageAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

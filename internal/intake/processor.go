// Package intake runs one inbound chat message through the pipeline: identity lookup, analysis,
// persistence of both turns and the lead update, then the merge check and notifications.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/leadlink/internal/accumulator"
	"github.com/wolfeidau/leadlink/internal/identity"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/nlu"
	"github.com/wolfeidau/leadlink/internal/notify"
	"github.com/wolfeidau/leadlink/internal/store"
	"github.com/wolfeidau/leadlink/internal/telemetry"
)

var tracer = otel.Tracer("leadlink.internal.intake")

var (
	// ErrTurnFailed is returned when a turn could not be completed. Nothing was written for it.
	ErrTurnFailed = errors.New("turn failed")

	// ErrInvalidMessage is returned for messages rejected before any work is done.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is one inbound chat message.
type Message struct {
	Key            models.DedupKey
	Content        string
	ChannelContext models.ChannelContext

	// MessageID is the channel's own id for the message, used to drop redeliveries. Optional.
	MessageID string
}

// Reply is the outcome of a processed message.
type Reply struct {
	Response string
	Lead     *models.Lead

	// Merge is set when the turn revealed an identifier that consolidated another lead.
	Merge *identity.Result

	// Duplicate is set when the message was already processed and was skipped.
	Duplicate bool
}

// ProcessorConfig configures the turn processor.
type ProcessorConfig struct {
	// HistoryLimit is how many prior turns are sent for analysis.
	// Default: store.DefaultHistoryLimit
	HistoryLimit int

	// MaxMessageLength rejects longer messages, counted in runes.
	// Default: 4000
	MaxMessageLength int

	// Retry bounds retries of the write transaction.
	Retry store.RetryConfig
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *ProcessorConfig) ApplyDefaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = store.DefaultHistoryLimit
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 4000
	}
	c.Retry.ApplyDefaults()
}

// Option customizes a Processor.
type Option func(*Processor)

// WithNotifier sets where sales alerts and merge events go. Defaults to the log.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// WithDeduplicator drops messages whose MessageID was already claimed.
func WithDeduplicator(d Deduplicator) Option {
	return func(p *Processor) { p.dedup = d }
}

// Processor handles inbound messages. It is safe for concurrent use; all shared state lives in the store.
type Processor struct {
	cfg      ProcessorConfig
	store    store.Store
	analyzer nlu.Analyzer
	merger   *identity.Engine
	notifier notify.Notifier
	dedup    Deduplicator
}

// NewProcessor creates a turn processor.
func NewProcessor(cfg ProcessorConfig, st store.Store, analyzer nlu.Analyzer, opts ...Option) *Processor {
	cfg.ApplyDefaults()

	p := &Processor{
		cfg:      cfg,
		store:    st,
		analyzer: analyzer,
		merger:   identity.NewEngine(st, cfg.Retry),
		notifier: notify.LogNotifier{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one inbound message.
//
// The analysis call happens before anything is written and is never retried; if it fails the message leaves
// no trace. The lead upsert, both turns and the lead update then commit in one transaction, retried on
// conflict. Once the lead carries an email the merge check runs in its own transaction.
func (p *Processor) Process(ctx context.Context, msg *Message) (*Reply, error) {
	if err := p.validate(msg); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "intake.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadlink.org_id", msg.Key.OrgID.String()),
		attribute.String("leadlink.platform", msg.Key.Platform),
	)

	start := time.Now()
	m := telemetry.GetMetrics()
	platform := metric.WithAttributes(attribute.String("platform", msg.Key.Platform))

	claimed, dup := p.claim(ctx, msg)
	if dup {
		m.InboundDuplicates.Add(ctx, 1, platform)
		return &Reply{Duplicate: true}, nil
	}

	reply, err := p.process(ctx, msg)
	if err != nil {
		if claimed {
			p.release(ctx, msg)
		}
		m.TurnsFailedTotal.Add(ctx, 1, platform)
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		log.Warn().Err(err).
			Str("org_id", msg.Key.OrgID.String()).
			Str("platform", msg.Key.Platform).
			Msg("Turn failed")
		return nil, fmt.Errorf("%w: %w", ErrTurnFailed, err)
	}

	m.TurnsProcessedTotal.Add(ctx, 1, platform)
	m.TurnDuration.Record(ctx, float64(time.Since(start).Milliseconds()), platform)
	span.SetAttributes(attribute.String("leadlink.lead_id", reply.Lead.LeadID.String()))

	return reply, nil
}

func (p *Processor) process(ctx context.Context, msg *Message) (*Reply, error) {
	// Read-only view used to brief the analyzer.
	prior, history, err := p.lookup(ctx, msg.Key)
	if err != nil {
		return nil, err
	}

	resp, err := p.analyzer.Analyze(ctx, &nlu.Request{
		UserID:        msg.Key.PlatformUserID,
		Platform:      msg.Key.Platform,
		Message:       msg.Content,
		History:       history,
		PlatformData:  msg.ChannelContext,
		KnownEntities: prior,
	})
	if err != nil {
		return nil, err
	}

	extraction := extractionOf(resp)

	lead, err := store.RetryWhen(ctx, p.cfg.Retry, retryableWrite, func() (*models.Lead, error) {
		return p.persist(ctx, msg, resp.Response, extraction)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	reply := &Reply{Response: resp.Response, Lead: lead}

	// The turn is committed; merge and notification failures are logged, not returned.
	if email := accumulator.StableIdentifier(lead.Entities); email != "" {
		res, err := p.merger.Reconcile(ctx, lead.OrgID, lead.LeadID, email)
		if err != nil {
			log.Error().Err(err).Str("lead_id", lead.LeadID.String()).Msg("Merge check failed")
		} else if res.Merged {
			reply.Merge = res
			reply.Lead = res.Lead
			p.notifyMerge(ctx, res, email)
		}
	}

	if resp.Metadata.ShouldNotifySales {
		p.notifySales(ctx, reply.Lead, msg.Content)
	}

	return reply, nil
}

// lookup returns the known entities and recent history for the key. An unknown key is a first contact.
func (p *Processor) lookup(ctx context.Context, key models.DedupKey) (map[string]string, []nlu.HistoryMessage, error) {
	lead, err := p.store.Leads().GetByDedupKey(ctx, key)
	if errors.Is(err, store.ErrLeadNotFound) {
		return map[string]string{}, []nlu.HistoryMessage{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up lead: %w", err)
	}

	turns, err := p.store.Ledger().History(ctx, lead.LeadID, p.cfg.HistoryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	history := make([]nlu.HistoryMessage, 0, len(turns))
	for _, turn := range turns {
		history = append(history, nlu.HistoryMessage{Role: string(turn.Role), Content: turn.Content})
	}

	return lead.Entities.Clone(), history, nil
}

// persist writes the turn pair and the accumulated lead state in one transaction.
func (p *Processor) persist(ctx context.Context, msg *Message, response string, ex accumulator.Extraction) (*models.Lead, error) {
	var out *models.Lead

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lead, err := tx.Leads().ResolveOrCreate(ctx, msg.Key, msg.ChannelContext)
		if err != nil {
			return err
		}

		turnEntities := accumulator.MergeTurn(accumulator.State{}, ex).Entities

		userTurn := &models.Turn{
			LeadID:            lead.LeadID,
			OrgID:             lead.OrgID,
			Role:              models.RoleUser,
			Content:           msg.Content,
			Intent:            ex.Intent,
			Sentiment:         ex.Sentiment,
			ExtractedEntities: turnEntities,
		}
		if err := tx.Ledger().Append(ctx, userTurn); err != nil {
			return err
		}

		assistantTurn := &models.Turn{
			LeadID:  lead.LeadID,
			OrgID:   lead.OrgID,
			Role:    models.RoleAssistant,
			Content: response,
		}
		if err := tx.Ledger().Append(ctx, assistantTurn); err != nil {
			return err
		}

		next := accumulator.MergeTurn(accumulator.StateOf(lead), ex)
		updated, err := tx.Leads().ApplyUpdate(ctx, lead.LeadID, &store.LeadUpdate{
			Entities:        next.Entities,
			Intent:          &next.Intent,
			Sentiment:       &next.Sentiment,
			LeadScore:       &next.LeadScore,
			Urgency:         &next.Urgency,
			Confidence:      &next.Confidence,
			SuggestedAction: &next.SuggestedAction,
		})
		if err != nil {
			return err
		}

		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.MessageCount == 1 {
		telemetry.GetMetrics().LeadsCreatedTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("platform", out.Platform)))
	}

	return out, nil
}

func (p *Processor) validate(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := msg.Key.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(msg.Content); n > p.cfg.MaxMessageLength {
		return fmt.Errorf("%w: message is %d characters, limit %d", ErrInvalidMessage, n, p.cfg.MaxMessageLength)
	}
	return nil
}

// claim reports whether this call owns the message id and whether the message is a redelivery.
// Deduplication fails open: if the deduplicator is unavailable the message is processed.
func (p *Processor) claim(ctx context.Context, msg *Message) (claimed, duplicate bool) {
	if p.dedup == nil || msg.MessageID == "" {
		return false, false
	}

	ok, err := p.dedup.Claim(ctx, dedupID(msg))
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Inbound dedup unavailable")
		return false, false
	}
	return ok, !ok
}

func (p *Processor) release(ctx context.Context, msg *Message) {
	if err := p.dedup.Release(ctx, dedupID(msg)); err != nil {
		log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Failed to release inbound message")
	}
}

func (p *Processor) notifySales(ctx context.Context, lead *models.Lead, message string) {
	m := telemetry.GetMetrics()
	if err := p.notifier.SalesAlert(ctx, notify.NewSalesAlert(lead, message)); err != nil {
		m.NotifyErrorsTotal.Add(ctx, 1)
		log.Error().Err(err).Str("lead_id", lead.LeadID.String()).Msg("Failed to send sales alert")
		return
	}
	m.SalesAlertsTotal.Add(ctx, 1)
}

func (p *Processor) notifyMerge(ctx context.Context, res *identity.Result, email string) {
	event := &notify.MergeEvent{
		OrgID:        res.Lead.OrgID,
		TargetLeadID: res.TargetLeadID,
		SourceLeadID: res.SourceLeadID,
		TurnsMoved:   res.TurnsMoved,
		Email:        email,
		LeadScore:    res.Lead.LeadScore,
		OccurredAt:   time.Now().UTC(),
	}
	if err := p.notifier.LeadsMerged(ctx, event); err != nil {
		telemetry.GetMetrics().NotifyErrorsTotal.Add(ctx, 1)
		log.Error().Err(err).Str("lead_id", res.TargetLeadID.String()).Msg("Failed to send merge event")
	}
}

// retryableWrite covers write conflicts and a lead deleted by a concurrent merge between statements.
func retryableWrite(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrLeadNotFound)
}

func extractionOf(resp *nlu.Response) accumulator.Extraction {
	md := resp.Metadata
	return accumulator.Extraction{
		NewEntities:     md.NewEntities,
		Intent:          md.Intent,
		Sentiment:       md.Sentiment,
		LeadScore:       md.LeadScore,
		Urgency:         md.Urgency,
		Confidence:      md.Confidence,
		SuggestedAction: md.SuggestedAction,
	}
}

func dedupID(msg *Message) string {
	return msg.Key.String() + "/" + msg.MessageID
}

// NewWebUserID generates a client id for a web visitor that did not send one.
func NewWebUserID() string {
	return "web_" + uuid.Must(uuid.NewV7()).String()
}

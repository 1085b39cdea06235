// Package identity consolidates leads that turn out to be the same person.
//
// A lead is keyed by its channel session. Once a session reveals a stable identifier (email), Reconcile folds
// the most recently active other lead carrying that identifier into it: turns are reassigned, entities and
// counters merged, and the older record deleted, all in one transaction.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfeidau/leadlink/internal/accumulator"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
	"github.com/wolfeidau/leadlink/internal/telemetry"
)

var tracer = otel.Tracer("leadlink.internal.identity")

// Result describes what a reconcile did.
type Result struct {
	Merged       bool
	TargetLeadID uuid.UUID
	SourceLeadID uuid.UUID
	TurnsMoved   int64

	// Lead is the surviving target after the merge, nil when nothing merged.
	Lead *models.Lead
}

// Engine runs merges against a transactional store.
type Engine struct {
	tx    store.Transactor
	retry store.RetryConfig
}

// NewEngine creates a merge engine.
func NewEngine(tx store.Transactor, retry store.RetryConfig) *Engine {
	retry.ApplyDefaults()
	return &Engine{tx: tx, retry: retry}
}

// Reconcile merges the most recently active other lead in the organization sharing email into the target.
//
// A missing target, an empty email, a target that does not carry email, or no matching lead is a no-op. Conflicting transactions are retried
// with backoff; ErrConflict is returned when retries run out.
func (e *Engine) Reconcile(ctx context.Context, orgID, targetLeadID uuid.UUID, email string) (*Result, error) {
	email = accumulator.NormalizeEmail(email)
	if email == "" {
		return &Result{TargetLeadID: targetLeadID}, nil
	}

	ctx, span := tracer.Start(ctx, "identity.reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadlink.org_id", orgID.String()),
		attribute.String("leadlink.lead_id", targetLeadID.String()),
	)

	res, err := store.RetryOnConflict(ctx, e.retry, func() (*Result, error) {
		return e.reconcileOnce(ctx, orgID, targetLeadID, email)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, fmt.Errorf("failed to reconcile lead %s: %w", targetLeadID, err)
	}

	span.SetAttributes(attribute.Bool("leadlink.merged", res.Merged))
	if !res.Merged {
		return res, nil
	}

	m := telemetry.GetMetrics()
	m.MergesTotal.Add(ctx, 1)
	m.MergedTurnsTotal.Add(ctx, res.TurnsMoved)

	log.Info().
		Str("org_id", orgID.String()).
		Str("target_lead_id", res.TargetLeadID.String()).
		Str("source_lead_id", res.SourceLeadID.String()).
		Int64("turns_moved", res.TurnsMoved).
		Msg("Merged leads")

	return res, nil
}

func (e *Engine) reconcileOnce(ctx context.Context, orgID, targetLeadID uuid.UUID, email string) (*Result, error) {
	var res *Result

	err := e.tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res = &Result{TargetLeadID: targetLeadID}
		merges := tx.Merges()

		// Target first, then source. Opposing merges can deadlock and are retried.
		target, err := merges.LockLead(ctx, targetLeadID)
		if errors.Is(err, store.ErrLeadNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if target.OrgID != orgID {
			return nil
		}
		// The locked row is authoritative; a stale caller email must not pull in another identity.
		if accumulator.StableIdentifier(target.Entities) != email {
			return nil
		}

		source, err := merges.FindMergeSource(ctx, orgID, email, targetLeadID)
		if errors.Is(err, store.ErrLeadNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		moved, err := merges.ReassignTurns(ctx, source.LeadID, target.LeadID)
		if err != nil {
			return err
		}

		merged := accumulator.MergeLeads(source, target)
		if err := merges.SaveMerged(ctx, merged); err != nil {
			return err
		}

		if err := merges.DeleteLead(ctx, source.LeadID); err != nil {
			return err
		}

		res.Merged = true
		res.SourceLeadID = source.LeadID
		res.TurnsMoved = moved
		res.Lead = merged
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

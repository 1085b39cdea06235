package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store in memory for tests and local development.
//
// A single mutex serializes every operation, which gives transactions serializable isolation. WithinTx works on
// a copy of the data and swaps it in on commit, so a failed transaction leaves nothing behind.
type Store struct {
	mu    sync.Mutex
	data  *dataset
	orgs  *OrganizationStore
	clock func() time.Time
}

// dataset is everything a transaction can change.
type dataset struct {
	leads map[uuid.UUID]*models.Lead    // lead_id -> Lead
	keys  map[models.DedupKey]uuid.UUID // dedup key -> lead_id
	turns map[uuid.UUID]*models.Turn    // turn_id -> Turn
	seq   int64
}

func newDataset() *dataset {
	return &dataset{
		leads: make(map[uuid.UUID]*models.Lead),
		keys:  make(map[models.DedupKey]uuid.UUID),
		turns: make(map[uuid.UUID]*models.Turn),
	}
}

func (d *dataset) clone() *dataset {
	out := &dataset{
		leads: make(map[uuid.UUID]*models.Lead, len(d.leads)),
		keys:  make(map[models.DedupKey]uuid.UUID, len(d.keys)),
		turns: make(map[uuid.UUID]*models.Turn, len(d.turns)),
		seq:   d.seq,
	}
	for id, lead := range d.leads {
		out.leads[id] = lead.Clone()
	}
	for key, id := range d.keys {
		out.keys[key] = id
	}
	for id, turn := range d.turns {
		out.turns[id] = cloneTurn(turn)
	}
	return out
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:  newDataset(),
		orgs:  NewOrganizationStore(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Organizations returns the organization store.
func (s *Store) Organizations() store.OrganizationStore { return s.orgs }

// Leads returns a lead store that runs each call in its own implicit transaction.
func (s *Store) Leads() store.LeadStore { return &leadStore{access{s: s}} }

// Ledger returns a ledger that runs each call in its own implicit transaction.
func (s *Store) Ledger() store.Ledger { return &ledger{access{s: s}} }

// WithinTx runs fn against a private copy of the data and publishes the copy only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.data.clone()
	if err := fn(ctx, &memTx{access{s: s, tx: work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data = work
	return nil
}

// access routes an operation either to an open transaction's dataset or, outside a transaction,
// to the live dataset under the store lock.
type access struct {
	s  *Store
	tx *dataset
}

func (a access) do(fn func(d *dataset) error) error {
	if a.tx != nil {
		return fn(a.tx)
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return fn(a.s.data)
}

func (a access) now() time.Time {
	return a.s.clock()
}

type memTx struct {
	access
}

func (t *memTx) Leads() store.LeadStore   { return &leadStore{t.access} }
func (t *memTx) Ledger() store.Ledger     { return &ledger{t.access} }
func (t *memTx) Merges() store.MergeStore { return &mergeStore{t.access} }

func cloneTurn(t *models.Turn) *models.Turn {
	clone := *t
	if t.ExtractedEntities != nil {
		clone.ExtractedEntities = t.ExtractedEntities.Clone()
	}
	return &clone
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/nlu"
	"github.com/wolfeidau/leadlink/internal/notify"
	"github.com/wolfeidau/leadlink/internal/store"
	"github.com/wolfeidau/leadlink/internal/store/memory"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*notify.SalesAlert
	merges []*notify.MergeEvent
}

func (r *recordingNotifier) SalesAlert(_ context.Context, alert *notify.SalesAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingNotifier) LeadsMerged(_ context.Context, event *notify.MergeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merges = append(r.merges, event)
	return nil
}

// scripted answers with a fixed analysis and records the requests it saw.
type scripted struct {
	mu       sync.Mutex
	requests []*nlu.Request
	metadata nlu.Metadata
	err      error
}

func (s *scripted) Analyze(_ context.Context, req *nlu.Request) (*nlu.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, fmt.Errorf("%w: %w", nlu.ErrCollaborator, s.err)
	}
	return &nlu.Response{Response: "reply to " + req.Message, Success: true, Metadata: s.metadata}, nil
}

func strPtr(s string) *string { return &s }

func msgFor(orgID uuid.UUID, platform, userID, content string) *Message {
	return &Message{
		Key:     models.DedupKey{OrgID: orgID, Platform: platform, PlatformUserID: userID},
		Content: content,
	}
}

func TestProcess_firstContact(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	analyzer := &scripted{metadata: nlu.Metadata{
		NewEntities: map[string]*string{"name": strPtr("Jo"), "phone": nil},
		Intent:      "pricing",
		Sentiment:   "positive",
		LeadScore:   40,
		Urgency:     "medium",
		Confidence:  0.6,
	}}
	p := NewProcessor(ProcessorConfig{}, st, analyzer)
	orgID := uuid.New()

	reply, err := p.Process(ctx, msgFor(orgID, models.PlatformWeb, "u1", "how much is it?"))
	require.NoError(t, err)
	require.Equal(t, "reply to how much is it?", reply.Response)
	require.Equal(t, 1, reply.Lead.MessageCount)
	require.Equal(t, 40, reply.Lead.LeadScore)
	require.Equal(t, models.Entities{"name": "Jo"}, reply.Lead.Entities)
	require.Nil(t, reply.Merge)

	history, err := st.Ledger().History(ctx, reply.Lead.LeadID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.RoleUser, history[0].Role)
	require.Equal(t, "pricing", history[0].Intent)
	require.Equal(t, models.RoleAssistant, history[1].Role)

	t.Run("analyzer is briefed with history and known entities", func(t *testing.T) {
		_, err := p.Process(ctx, msgFor(orgID, models.PlatformWeb, "u1", "and delivery?"))
		require.NoError(t, err)

		req := analyzer.requests[1]
		require.Len(t, req.History, 2)
		require.Equal(t, "how much is it?", req.History[0].Content)
		require.Equal(t, "Jo", req.KnownEntities["name"])
	})
}

func TestProcess_scoreReplacedPerTurn(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	analyzer := &scripted{metadata: nlu.Metadata{LeadScore: 80}}
	p := NewProcessor(ProcessorConfig{}, st, analyzer)
	orgID := uuid.New()

	_, err := p.Process(ctx, msgFor(orgID, models.PlatformWeb, "u1", "buy now"))
	require.NoError(t, err)

	analyzer.metadata = nlu.Metadata{LeadScore: 20}
	reply, err := p.Process(ctx, msgFor(orgID, models.PlatformWeb, "u1", "actually not"))
	require.NoError(t, err)
	require.Equal(t, 20, reply.Lead.LeadScore)
	require.Equal(t, 2, reply.Lead.MessageCount)
}

func TestProcess_collaboratorFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := NewProcessor(ProcessorConfig{}, st, &scripted{err: errors.New("timeout")})
	msg := msgFor(uuid.New(), models.PlatformWeb, "u1", "hello")

	_, err := p.Process(ctx, msg)
	require.ErrorIs(t, err, ErrTurnFailed)
	require.ErrorIs(t, err, nlu.ErrCollaborator)

	_, err = st.Leads().GetByDedupKey(ctx, msg.Key)
	require.ErrorIs(t, err, store.ErrLeadNotFound)
}

func TestProcess_rejectsInvalidMessages(t *testing.T) {
	analyzer := &scripted{}
	p := NewProcessor(ProcessorConfig{MaxMessageLength: 5}, memory.New(), analyzer)
	orgID := uuid.New()

	tests := []struct {
		name string
		msg  *Message
	}{
		{name: "nil", msg: nil},
		{name: "blank content", msg: msgFor(orgID, models.PlatformWeb, "u1", "   ")},
		{name: "too long", msg: msgFor(orgID, models.PlatformWeb, "u1", "hello world")},
		{name: "missing user id", msg: msgFor(orgID, models.PlatformWeb, "", "hi")},
		{name: "missing organization", msg: msgFor(uuid.Nil, models.PlatformWeb, "u1", "hi")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tt.msg)
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
	require.Empty(t, analyzer.requests)
}

func TestProcess_crossChannelMerge(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	analyzer := &nlu.Stub{}
	notifier := &recordingNotifier{}
	p := NewProcessor(ProcessorConfig{}, st, analyzer, WithNotifier(notifier))
	orgID := uuid.New()

	// web session reveals the email and asks for pricing
	web, err := p.Process(ctx, msgFor(orgID, models.PlatformWeb, "w1", "pricing please, I am jo@example.com"))
	require.NoError(t, err)
	require.Nil(t, web.Merge)
	time.Sleep(2 * time.Millisecond)

	// telegram session starts anonymously
	tg, err := p.Process(ctx, msgFor(orgID, models.PlatformTelegram, "telegram_7", "hi"))
	require.NoError(t, err)
	require.NotEqual(t, web.Lead.LeadID, tg.Lead.LeadID)

	// and then reveals the same email
	merged, err := p.Process(ctx, msgFor(orgID, models.PlatformTelegram, "telegram_7", "it's JO@example.com"))
	require.NoError(t, err)
	require.NotNil(t, merged.Merge)
	require.Equal(t, tg.Lead.LeadID, merged.Lead.LeadID)
	require.Equal(t, web.Lead.LeadID, merged.Merge.SourceLeadID)
	require.Equal(t, int64(2), merged.Merge.TurnsMoved)

	t.Run("every turn survives", func(t *testing.T) {
		count, err := st.Ledger().Count(ctx, tg.Lead.LeadID)
		require.NoError(t, err)
		require.Equal(t, 6, count)
	})

	t.Run("score keeps the best of both", func(t *testing.T) {
		require.Equal(t, web.Lead.LeadScore, merged.Lead.LeadScore)
		require.Equal(t, 3, merged.Lead.MessageCount)
	})

	t.Run("merge is announced", func(t *testing.T) {
		require.Len(t, notifier.merges, 1)
		require.Equal(t, "jo@example.com", notifier.merges[0].Email)
	})

	t.Run("web session starts over", func(t *testing.T) {
		_, err := st.Leads().GetByDedupKey(ctx, web.Lead.Key())
		require.ErrorIs(t, err, store.ErrLeadNotFound)
	})
}

func TestProcess_salesAlert(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	p := NewProcessor(ProcessorConfig{}, memory.New(), &scripted{metadata: nlu.Metadata{LeadScore: 90, ShouldNotifySales: true}}, WithNotifier(notifier))

	reply, err := p.Process(ctx, msgFor(uuid.New(), models.PlatformWeb, "u1", "I need 500 seats today"))
	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	require.Equal(t, reply.Lead.LeadID, notifier.alerts[0].LeadID)
	require.Equal(t, 90, notifier.alerts[0].LeadScore)
}

func TestProcess_concurrentFirstMessages(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := NewProcessor(ProcessorConfig{}, st, &nlu.Stub{})
	orgID := uuid.New()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Process(ctx, msgFor(orgID, models.PlatformWeb, "racer", "hello")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	lead, err := st.Leads().GetByDedupKey(ctx, models.DedupKey{OrgID: orgID, Platform: models.PlatformWeb, PlatformUserID: "racer"})
	require.NoError(t, err)
	require.Equal(t, 20, lead.MessageCount)

	count, err := st.Ledger().Count(ctx, lead.LeadID)
	require.NoError(t, err)
	require.Equal(t, 40, count)
}

func TestProcess_dedup(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	st := memory.New()
	analyzer := &scripted{}
	p := NewProcessor(ProcessorConfig{}, st, analyzer, WithDeduplicator(NewRedisDeduplicator(client, time.Minute)))
	orgID := uuid.New()

	msg := msgFor(orgID, models.PlatformTelegram, "telegram_1", "hi")
	msg.MessageID = "100"

	reply, err := p.Process(ctx, msg)
	require.NoError(t, err)
	require.False(t, reply.Duplicate)

	reply, err = p.Process(ctx, msg)
	require.NoError(t, err)
	require.True(t, reply.Duplicate)
	require.Len(t, analyzer.requests, 1)

	t.Run("failed turn releases the claim", func(t *testing.T) {
		failing := msgFor(orgID, models.PlatformTelegram, "telegram_1", "again")
		failing.MessageID = "101"

		analyzer.err = errors.New("down")
		_, err := p.Process(ctx, failing)
		require.ErrorIs(t, err, ErrTurnFailed)

		analyzer.err = nil
		reply, err := p.Process(ctx, failing)
		require.NoError(t, err)
		require.False(t, reply.Duplicate)
	})

	t.Run("redis outage fails open", func(t *testing.T) {
		mr.Close()
		open := msgFor(orgID, models.PlatformTelegram, "telegram_1", "still there?")
		open.MessageID = "102"

		reply, err := p.Process(ctx, open)
		require.NoError(t, err)
		require.False(t, reply.Duplicate)
	})
}

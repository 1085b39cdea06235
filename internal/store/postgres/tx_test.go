package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/leadlink/internal/identity"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newStore(mock, nil), mock
}

func TestWithinTx_mergeCommits(t *testing.T) {
	st, mock := newMockStore(t)
	source, target := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE turns SET lead_id").WithArgs(source, target).WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE leads SET").
		WithArgs(target, pgxmock.AnyArg(), "x@x.com", 70, 6, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM leads").WithArgs(source).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		moved, err := tx.Merges().ReassignTurns(ctx, source, target)
		if err != nil {
			return err
		}
		require.Equal(t, int64(3), moved)

		err = tx.Merges().SaveMerged(ctx, &models.Lead{
			LeadID:         target,
			Entities:       models.Entities{"email": "x@x.com"},
			Email:          "x@x.com",
			LeadScore:      70,
			MessageCount:   6,
			FirstMessageAt: now,
			LastMessageAt:  now,
		})
		if err != nil {
			return err
		}
		return tx.Merges().DeleteLead(ctx, source)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_failureAfterReassignRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	source, target := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE turns SET lead_id").WithArgs(source, target).WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("DELETE FROM leads").WithArgs(source).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.DeadlockDetected, Message: "deadlock detected"})
	mock.ExpectRollback()

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Merges().ReassignTurns(ctx, source, target); err != nil {
			return err
		}
		return tx.Merges().DeleteLead(ctx, source)
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_beginFailure(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: pgerrcode.TooManyConnections})

	called := false
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLead_missing(t *testing.T) {
	st, mock := newMockStore(t)
	leadID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM leads").WithArgs(leadID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Merges().DeleteLead(ctx, leadID)
	})
	require.ErrorIs(t, err, store.ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_clearAndCount(t *testing.T) {
	st, mock := newMockStore(t)
	leadID := uuid.New()

	mock.ExpectExec("DELETE FROM turns").WithArgs(leadID).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectQuery("SELECT COUNT").WithArgs(leadID).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	removed, err := st.Ledger().Clear(context.Background(), leadID)
	require.NoError(t, err)
	require.Equal(t, int64(4), removed)

	count, err := st.Ledger().Count(context.Background(), leadID)
	require.NoError(t, err)
	require.Zero(t, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUpdate_invalidWritesNothing(t *testing.T) {
	st, mock := newMockStore(t)
	score := 120

	_, err := st.Leads().ApplyUpdate(context.Background(), uuid.New(), &store.LeadUpdate{LeadScore: &score})
	require.ErrorIs(t, err, store.ErrInvalidUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildLeadUpdate(t *testing.T) {
	leadID := uuid.New()
	score := 42
	intent := "pricing"

	t.Run("only set columns are written", func(t *testing.T) {
		query, args := buildLeadUpdate(leadID, &store.LeadUpdate{LeadScore: &score, Intent: &intent})

		require.Contains(t, query, "intent = $2")
		require.Contains(t, query, "lead_score = $3")
		require.Contains(t, query, "updated_at = NOW()")
		require.NotContains(t, query, "entities =")
		require.NotContains(t, query, "sentiment =")
		require.Equal(t, []any{leadID, "pricing", 42}, args)
	})

	t.Run("entities refresh the email column", func(t *testing.T) {
		entities := models.Entities{"email": "jo@example.com", "name": "Jo"}
		query, args := buildLeadUpdate(leadID, &store.LeadUpdate{Entities: entities})

		require.Contains(t, query, "entities = $2")
		require.Contains(t, query, "email = $3")
		require.Equal(t, "jo@example.com", args[2])
	})

	t.Run("email column is normalized", func(t *testing.T) {
		entities := models.Entities{"email": "  Jo@Example.COM"}
		_, args := buildLeadUpdate(leadID, &store.LeadUpdate{Entities: entities})

		require.Equal(t, "jo@example.com", args[2])
		require.Equal(t, "  Jo@Example.COM", args[1].(models.Entities)["email"])
	})
}

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name     string
		err      *pgconn.PgError
		expected error
	}{
		{
			name:     "serialization failure",
			err:      &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			expected: store.ErrConflict,
		},
		{
			name:     "deadlock",
			err:      &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			expected: store.ErrConflict,
		},
		{
			name:     "dedup key race",
			err:      &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "leads_dedup_key"},
			expected: store.ErrConflict,
		},
		{
			name:     "turn for deleted lead",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "turns_lead_id_fkey"},
			expected: store.ErrLeadNotFound,
		},
		{
			name:     "lead for unknown organization",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "leads_organization_id_fkey"},
			expected: store.ErrOrganizationNotFound,
		},
		{
			name:     "score out of range",
			err:      &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "leads_lead_score_check"},
			expected: store.ErrInvalidUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, mapPostgresError(tt.err), tt.expected)
		})
	}

	require.NoError(t, mapPostgresError(nil))
}

const (
	lockLeadSQL    = `FROM leads WHERE lead_id = \$1 FOR UPDATE`
	mergeSourceSQL = `WHERE organization_id = \$1 AND email = \$2 AND lead_id <> \$3\s+ORDER BY last_message_at DESC, created_at DESC\s+LIMIT 1\s+FOR UPDATE`
)

var leadColumnNames = strings.Fields(strings.ReplaceAll(leadColumns, ",", " "))

func leadRows(leads ...*models.Lead) *pgxmock.Rows {
	rows := pgxmock.NewRows(leadColumnNames)
	for _, l := range leads {
		rows.AddRow(
			l.LeadID, l.OrgID, l.Platform, l.PlatformUserID,
			l.Entities, l.Email, l.Intent, l.Sentiment, l.LeadScore, l.Urgency, l.Confidence, l.SuggestedAction, l.ChannelContext,
			l.MessageCount, l.FirstMessageAt, l.LastMessageAt, l.CreatedAt, l.UpdatedAt,
		)
	}
	return rows
}

func testLead(orgID uuid.UUID, platform, userID string, score, count int, first, last time.Time) *models.Lead {
	return &models.Lead{
		LeadID:         uuid.Must(uuid.NewV7()),
		OrgID:          orgID,
		Platform:       platform,
		PlatformUserID: userID,
		Entities:       models.Entities{"email": "x@x.com"},
		Email:          "x@x.com",
		Intent:         "general",
		LeadScore:      score,
		ChannelContext: models.ChannelContext{},
		MessageCount:   count,
		FirstMessageAt: first,
		LastMessageAt:  last,
		CreatedAt:      first,
		UpdatedAt:      last,
	}
}

func TestLockLead(t *testing.T) {
	now := time.Now().UTC()
	lead := testLead(uuid.New(), models.PlatformWeb, "web_1", 40, 2, now, now)

	t.Run("locks the row", func(t *testing.T) {
		st, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockLeadSQL).WithArgs(lead.LeadID).WillReturnRows(leadRows(lead))
		mock.ExpectCommit()

		err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			got, err := tx.Merges().LockLead(ctx, lead.LeadID)
			if err != nil {
				return err
			}
			require.Equal(t, lead.LeadID, got.LeadID)
			require.Equal(t, "x@x.com", got.Email)
			require.Equal(t, 40, got.LeadScore)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		st, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockLeadSQL).WithArgs(lead.LeadID).WillReturnRows(leadRows())
		mock.ExpectRollback()

		err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.Merges().LockLead(ctx, lead.LeadID)
			return err
		})
		require.ErrorIs(t, err, store.ErrLeadNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock timeout is a conflict", func(t *testing.T) {
		st, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockLeadSQL).WithArgs(lead.LeadID).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.LockNotAvailable, Message: "canceling statement due to lock timeout"})
		mock.ExpectRollback()

		err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.Merges().LockLead(ctx, lead.LeadID)
			return err
		})
		require.ErrorIs(t, err, store.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindMergeSource(t *testing.T) {
	orgID, targetID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	source := testLead(orgID, models.PlatformWeb, "web_1", 70, 3, now.Add(-time.Hour), now.Add(-time.Minute))

	tests := []struct {
		name     string
		results  []*pgxmock.Rows
		expected error
	}{
		{
			name:    "most recent match",
			results: []*pgxmock.Rows{leadRows(source)},
		},
		{
			name:    "looks again when the locked row vanished",
			results: []*pgxmock.Rows{leadRows(), leadRows(source)},
		},
		{
			name:     "no match after the second look",
			results:  []*pgxmock.Rows{leadRows(), leadRows()},
			expected: store.ErrLeadNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMockStore(t)

			mock.ExpectBegin()
			for _, rows := range tt.results {
				mock.ExpectQuery(mergeSourceSQL).WithArgs(orgID, "x@x.com", targetID).WillReturnRows(rows)
			}
			if tt.expected != nil {
				mock.ExpectRollback()
			} else {
				mock.ExpectCommit()
			}

			err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				got, err := tx.Merges().FindMergeSource(ctx, orgID, "x@x.com", targetID)
				if err != nil {
					return err
				}
				require.Equal(t, source.LeadID, got.LeadID)
				return nil
			})
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindMergeSource_emptyEmailSkipsQuery(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Merges().FindMergeSource(ctx, uuid.New(), "", uuid.New())
		return err
	})
	require.ErrorIs(t, err, store.ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_mergeStatements(t *testing.T) {
	st, mock := newMockStore(t)
	orgID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	source := testLead(orgID, models.PlatformWeb, "web_1", 70, 3, now.Add(-time.Hour), now.Add(-time.Minute))
	target := testLead(orgID, models.PlatformTelegram, "telegram_1", 30, 2, now.Add(-time.Minute), now)

	mock.ExpectBegin()
	mock.ExpectQuery(lockLeadSQL).WithArgs(target.LeadID).WillReturnRows(leadRows(target))
	mock.ExpectQuery(mergeSourceSQL).WithArgs(orgID, "x@x.com", target.LeadID).WillReturnRows(leadRows(source))
	mock.ExpectExec("UPDATE turns SET lead_id").WithArgs(source.LeadID, target.LeadID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE leads SET").
		WithArgs(target.LeadID, pgxmock.AnyArg(), "x@x.com", 70, 5, source.FirstMessageAt, target.LastMessageAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM leads").WithArgs(source.LeadID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := identity.NewEngine(st, store.RetryConfig{MaxAttempts: 1}).
		Reconcile(context.Background(), orgID, target.LeadID, "X@x.com")
	require.NoError(t, err)
	require.True(t, res.Merged)
	require.Equal(t, source.LeadID, res.SourceLeadID)
	require.Equal(t, int64(3), res.TurnsMoved)
	require.Equal(t, 70, res.Lead.LeadScore)
	require.Equal(t, 5, res.Lead.MessageCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

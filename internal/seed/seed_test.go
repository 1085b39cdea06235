package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/leadlink/internal/store/memory"
)

const sample = `
organizations:
  - name: Acme
    api_key: acme-key
  - id: 0192f0b4-7c1a-7e4b-9d2f-3a4b5c6d7e8f
    name: Globex
    api_key: globex-key
    active: false
`

func TestLoad(t *testing.T) {
	f, err := Load(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Organizations, 2)

	acme := f.Organizations[0].Organization()
	require.Equal(t, "Acme", acme.Name)
	require.True(t, acme.Active)
	require.Equal(t, acme.OrgID, f.Organizations[0].Organization().OrgID)

	globex := f.Organizations[1].Organization()
	require.Equal(t, uuid.MustParse("0192f0b4-7c1a-7e4b-9d2f-3a4b5c6d7e8f"), globex.OrgID)
	require.False(t, globex.Active)
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  string
	}{
		{name: "not yaml", doc: "organizations: [", err: "failed to parse seed file"},
		{name: "empty", doc: "organizations: []", err: "no organizations"},
		{name: "missing name", doc: "organizations:\n  - api_key: k\n", err: "name is required"},
		{name: "bad id", doc: "organizations:\n  - name: A\n    id: nope\n", err: "invalid id"},
		{name: "duplicate key", doc: "organizations:\n  - name: A\n    api_key: k\n  - name: B\n    api_key: k\n", err: "already used"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.ErrorContains(t, err, tt.err)
		})
	}
}

func TestApply_idempotent(t *testing.T) {
	ctx := context.Background()
	orgs := memory.NewOrganizationStore()

	f, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	res, err := Apply(ctx, orgs, f)
	require.NoError(t, err)
	require.Equal(t, &Result{Created: 2}, res)

	res, err = Apply(ctx, orgs, f)
	require.NoError(t, err)
	require.Equal(t, &Result{Skipped: 2}, res)

	all, err := orgs.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	def, err := orgs.GetDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, "Acme", def.Name)
}

//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrivenerlabs/scrivener/capability"
)

func TestKVStore_SaveAndLoad(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	store, err := NewKVStore(ctx, tc.Client, "SCRIVENER_TEST", nil)
	require.NoError(t, err)

	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(testDescriptor("check_margins")))
	require.NoError(t, reg.Register(testDescriptor("format_citations")))
	require.NoError(t, reg.RecordOutcome("check_margins", true))
	require.NoError(t, reg.RecordOutcome("check_margins", false))
	require.NoError(t, reg.Evolve("check_margins", "hardened against empty documents"))

	require.NoError(t, store.Save(ctx, reg))

	restored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())

	d, err := restored.Get("check_margins")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Version)
	assert.Equal(t, 1, d.SuccessCount)
	assert.Equal(t, 1, d.FailureCount)

	history := restored.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hardened against empty documents", history[0].Note)
	assert.Equal(t, 1, history[0].Seq)
}

func TestKVStore_LoadEmptyBuckets(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	store, err := NewKVStore(ctx, tc.Client, "SCRIVENER_EMPTY", nil)
	require.NoError(t, err)

	reg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.History())
}

func TestKVStore_SaveIsIdempotentForEvents(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	store, err := NewKVStore(ctx, tc.Client, "SCRIVENER_IDEM", nil)
	require.NoError(t, err)

	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(testDescriptor("check_margins")))
	require.NoError(t, reg.Evolve("check_margins", "first revision"))

	require.NoError(t, store.Save(ctx, reg))
	require.NoError(t, store.Save(ctx, reg))

	require.NoError(t, reg.Evolve("check_margins", "second revision"))
	require.NoError(t, store.Save(ctx, reg))

	restored, err := store.Load(ctx)
	require.NoError(t, err)

	history := restored.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first revision", history[0].Note)
	assert.Equal(t, "second revision", history[1].Note)
}

func TestKVStore_SurvivesReopen(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	store, err := NewKVStore(ctx, tc.Client, "SCRIVENER_REOPEN", nil)
	require.NoError(t, err)

	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(testDescriptor("check_margins")))
	require.NoError(t, reg.Evolve("check_margins", "first revision"))
	require.NoError(t, store.Save(ctx, reg))

	// A fresh store against the same buckets sees the same state.
	reopened, err := NewKVStore(ctx, tc.Client, "SCRIVENER_REOPEN", nil)
	require.NoError(t, err)

	restored, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
	require.Len(t, restored.History(), 1)
}

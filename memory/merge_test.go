package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/grace/memory"
)

func TestMergeRelatedMemories(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a, err := env.manager.AddToLongTerm(ctx, "Solana is fast", memory.LongTermOptions{Entity: "Solana"})
	require.NoError(t, err)
	b, err := env.manager.AddToLongTerm(ctx, "Solana is fast", memory.LongTermOptions{Entity: "Solana", UserID: admin})
	require.NoError(t, err)
	distinct, err := env.manager.AddToLongTerm(ctx, "validators need powerful hardware and bandwidth", memory.LongTermOptions{Entity: "Solana"})
	require.NoError(t, err)
	other, err := env.manager.AddToLongTerm(ctx, "Solana is fast", memory.LongTermOptions{Entity: "Aptos"})
	require.NoError(t, err)

	report, err := env.manager.MergeRelatedMemories(ctx, "Solana", 0.85)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
	require.Len(t, report.Created, 1)
	assert.ElementsMatch(t, []string{a, b}, report.Removed)

	for _, id := range []string{a, b} {
		got, err := env.manager.GetMemoryByID(ctx, id, memory.LongTerm, "")
		require.NoError(t, err)
		assert.Nil(t, got, "original %s should be deleted", id)
	}
	for _, id := range []string{distinct, other} {
		got, err := env.manager.GetMemoryByID(ctx, id, memory.LongTerm, "")
		require.NoError(t, err)
		assert.NotNil(t, got, "%s should survive", id)
	}

	merged, err := env.manager.GetMemoryByID(ctx, report.Created[0], memory.LongTerm, "")
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, "true", merged.Metadata[memory.KeyMerged])
	assert.Equal(t, "Solana", merged.Metadata.Entity())
	assert.Equal(t, memory.PriorityHigh, merged.Metadata[memory.KeyPriority])
	assert.Equal(t, 2, strings.Count(merged.Text, "Solana is fast"))
	assert.ElementsMatch(t, []string{a, b}, strings.Split(merged.Metadata[memory.KeyMergedFrom], ","))
	assert.Equal(t, 1, env.audit.Count(memory.EventMemoryMerged))
}

func TestMergeRelatedMemories_NothingToMerge(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.manager.AddToLongTerm(ctx, "Cardano uses Haskell", memory.LongTermOptions{Entity: "Cardano"})
	require.NoError(t, err)
	_, err = env.manager.AddToLongTerm(ctx, "staking rewards arrive each epoch", memory.LongTermOptions{Entity: "Cardano"})
	require.NoError(t, err)

	report, err := env.manager.MergeRelatedMemories(ctx, "Cardano", 0.85)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Merged)

	_, err = env.manager.MergeRelatedMemories(ctx, "", 0.85)
	require.ErrorIs(t, err, memory.ErrInvalidInput)
}

func TestMergeAllEntities(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, entity := range []string{"Solana", "Aptos"} {
		for i := 0; i < 2; i++ {
			_, err := env.manager.AddToLongTerm(ctx, entity+" mainnet is live", memory.LongTermOptions{Entity: entity})
			require.NoError(t, err)
		}
	}
	_, err := env.manager.AddToLongTerm(ctx, "Sui uses Move", memory.LongTermOptions{Entity: "Sui"})
	require.NoError(t, err)

	report, err := env.manager.MergeAllEntities(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Entities)
	assert.Equal(t, 2, report.Merged)
	assert.Len(t, report.Removed, 4)

	results := env.manager.QueryMemory(ctx, "mainnet is live", memory.QueryOptions{Limit: 10})
	assert.Len(t, results.Global, 3)
}

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/grace/memory"
)

func TestMaintainer_RunOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	bridge := memory.NewBridge(env.manager)

	_, err := env.manager.AddToShortTerm(ctx, "alice", "stale chatter", nil)
	require.NoError(t, err)
	env.clock.Advance(25 * time.Hour)

	_, err = bridge.ProcessMessage(ctx, "alice", "Solana versus Ethereum", "user")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = env.manager.AddToLongTerm(ctx, "Solana mainnet is live", memory.LongTermOptions{Entity: "Solana"})
		require.NoError(t, err)
	}

	report := memory.NewMaintainer(env.manager, bridge, time.Hour, true).RunOnce(ctx)
	assert.Equal(t, 1, report.Prune.ShortTerm)
	assert.Equal(t, 1, report.Merge.Merged)
	assert.Equal(t, 1, bridge.Graph().Weight("Solana", "Ethereum"))
}

func TestMaintainer_MergeDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.manager.AddToLongTerm(ctx, "Aptos mainnet is live", memory.LongTermOptions{Entity: "Aptos"})
		require.NoError(t, err)
	}

	report := memory.NewMaintainer(env.manager, nil, 0, false).RunOnce(ctx)
	assert.Equal(t, 0, report.Merge.Merged)
	assert.Equal(t, 0, env.audit.Count(memory.EventMemoryMerged))
}

func TestMaintainer_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		memory.NewMaintainer(env.manager, nil, time.Hour, false).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("maintainer did not stop")
	}
}

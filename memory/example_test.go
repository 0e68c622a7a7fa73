package memory_test

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/grace/core"
	"github.com/becomeliminal/grace/memory"
	"github.com/becomeliminal/grace/memory/embedder/mock"
	"github.com/becomeliminal/grace/memory/store/chromem"
)

func Example() {
	ctx := context.Background()

	store, err := chromem.New(mock.New(0), chromem.Config{Logger: zap.NewNop()})
	if err != nil {
		panic(err)
	}
	manager, err := memory.NewManager(ctx, store, memory.NewAllowList("admin@example.com"), nil,
		memory.WithLogger(zap.NewNop()))
	if err != nil {
		panic(err)
	}

	// An authorized user teaches Grace something everyone can see.
	router := memory.NewRouter(manager, nil)
	learned := router.ProcessInput(ctx, core.Input{
		Text:      "!grace.learn Solana: is a high-performance blockchain",
		Username:  "admin@example.com",
		IsCommand: true,
	})
	fmt.Println("learned:", learned.CommandProcessed)

	// Alice's conversation is remembered for her alone.
	bridge := memory.NewBridge(manager)
	if _, err := bridge.ProcessMessage(ctx, "alice", "I'm thinking about investing in Solana", "user"); err != nil {
		panic(err)
	}

	fmt.Println(bridge.GenerateContextForPrompt(ctx, "Tell me about Solana", "alice", 2))
	// Output:
	// learned: true
	// 1. I'm thinking about investing in Solana (Source: User, Type: short_term)
	// 2. [Solana] I'm thinking about investing in Solana (Source: User, Type: medium_term)
}

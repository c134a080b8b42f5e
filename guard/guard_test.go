package guard

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
)

func TestTryClaim(t *testing.T) {
	ctx := context.Background()
	g := New()
	addr := types.MustParseAddress("0xabc")

	require.NoError(t, g.TryClaim(ctx, addr))
	assert.True(t, g.Funded(addr))

	err := g.TryClaim(ctx, addr)
	assert.ErrorIs(t, err, ErrAlreadyFunded)
	assert.Equal(t, 1, g.Len())

	require.NoError(t, g.TryClaim(ctx, types.MustParseAddress("0xdef")))
	assert.Equal(t, 2, g.Len())
}

func TestConcurrentClaimsGrantExactlyOne(t *testing.T) {
	ctx := context.Background()
	g := New()
	addr := types.MustParseAddress("0xabc")

	const n = 64
	var granted, rejected atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := g.TryClaim(ctx, addr); err == nil {
				granted.Inc()
			} else if assert.ErrorIs(t, err, ErrAlreadyFunded) {
				rejected.Inc()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), granted.Load())
	assert.Equal(t, int64(n-1), rejected.Load())
}

func TestRestore(t *testing.T) {
	g := New()
	addr := types.MustParseAddress("0x1")
	g.Restore([]types.Address{addr})
	assert.ErrorIs(t, g.TryClaim(context.Background(), addr), ErrAlreadyFunded)
}

package refresh

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"lecca.io/mind-watchtower/internal/chain"
	"lecca.io/mind-watchtower/internal/names"
	"lecca.io/mind-watchtower/internal/snapshot"
)

var (
	addrX = common.HexToAddress("0x0000000000000000000000000000000000000001")
	addrY = common.HexToAddress("0x0000000000000000000000000000000000000002")
	addrZ = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei " + s)
	}
	return v
}

func TestRunCycleMerges(t *testing.T) {
	src := newFakeSource(addrX, addrY)
	src.stakes[addrX] = wei("5000000000000000000")
	src.rewards[addrX] = wei("1500000000000000000")
	src.off[addrX] = chain.OffChainStatus{IsActive: true, ValidatedCount: 12}
	src.off[addrY] = chain.OffChainStatus{IsActive: false}

	names := &fakeNames{names: map[common.Address]string{addrX: "Alice"}}
	cache := snapshot.New()
	p := NewPipeline(src, names, cache, Options{Concurrency: 4})

	res := p.RunCycle(context.Background(), 7)
	require.True(t, res.OK())
	require.Equal(t, 2, res.Listed)
	require.Equal(t, 2, res.Published)
	require.Empty(t, res.Failed)
	require.Equal(t, uint64(7), res.Height)

	x, ok := cache.Get(addrX.Hex())
	require.True(t, ok)
	require.Equal(t, snapshot.ValidatorRecord{
		Address:               addrX.Hex(),
		Name:                  "Alice",
		Stake:                 "5.0 MIND",
		Rewards:               "1.5 PMIND",
		ValidatedBlocksCount:  12,
		ValidatedBlocksStatus: snapshot.StatusActive,
	}, x)

	y, ok := cache.Get(addrY.Hex())
	require.True(t, ok)
	require.Equal(t, "", y.Name)
	require.Equal(t, "0.0 MIND", y.Stake)
	require.Equal(t, uint64(0), y.ValidatedBlocksCount)
	require.Equal(t, snapshot.StatusInactive, y.ValidatedBlocksStatus)

	// Last listed validator surfaces first.
	list := cache.ListAll()
	require.Equal(t, addrY.Hex(), list[0].Address)
	require.Equal(t, addrX.Hex(), list[1].Address)

	last, ok := p.LastResult()
	require.True(t, ok)
	require.Equal(t, 2, last.Published)
	require.Equal(t, Idle, p.State())
}

func TestRunCyclePicksUpStoredNames(t *testing.T) {
	ctx := context.Background()
	store, err := names.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	src := newFakeSource(addrX, addrY)
	cache := snapshot.New()
	p := NewPipeline(src, store, cache, Options{})

	require.True(t, p.RunCycle(ctx, 1).OK())
	x, _ := cache.Get(addrX.Hex())
	require.Equal(t, "", x.Name)

	require.NoError(t, store.Put(ctx, addrX, "Alice"))

	for height := uint64(2); height <= 3; height++ {
		res := p.RunCycle(ctx, height)
		require.True(t, res.OK())
		require.Empty(t, res.Failed)

		x, _ = cache.Get(addrX.Hex())
		require.Equal(t, "Alice", x.Name)
		y, _ := cache.Get(addrY.Hex())
		require.Equal(t, "", y.Name)
	}

	require.ErrorIs(t, store.Put(ctx, addrX, "Mallory"), names.ErrNameExists)
	require.True(t, p.RunCycle(ctx, 4).OK())
	x, _ = cache.Get(addrX.Hex())
	require.Equal(t, "Alice", x.Name)
}

func TestRunCycleIsolatesFetchFailures(t *testing.T) {
	src := newFakeSource(addrX, addrY, addrZ)
	names := &fakeNames{}
	cache := snapshot.New()
	p := NewPipeline(src, names, cache, Options{Concurrency: 4})

	src.stakes[addrX] = wei("1000000000000000000")
	require.True(t, p.RunCycle(context.Background(), 1).OK())
	prevX, _ := cache.Get(addrX.Hex())
	require.Equal(t, "1.0 MIND", prevX.Stake)

	src.stakes[addrX] = wei("9000000000000000000")
	src.stakes[addrY] = wei("2000000000000000000")
	src.stakes[addrZ] = wei("3000000000000000000")
	src.failOn[addrX] = "offchain"

	res := p.RunCycle(context.Background(), 2)
	require.True(t, res.OK())
	require.Equal(t, 2, res.Published)
	require.Len(t, res.Failed, 1)
	require.Equal(t, addrX, res.Failed[0].Address)
	require.Equal(t, "offchain", res.Failed[0].Op)
	require.ErrorIs(t, res.Failed[0], errBoom)

	x, _ := cache.Get(addrX.Hex())
	require.Equal(t, prevX, x)
	y, _ := cache.Get(addrY.Hex())
	require.Equal(t, "2.0 MIND", y.Stake)
	z, _ := cache.Get(addrZ.Hex())
	require.Equal(t, "3.0 MIND", z.Stake)
}

func TestRunCycleNameFailureFailsAddress(t *testing.T) {
	src := newFakeSource(addrX, addrY)
	names := &fakeNames{fail: map[common.Address]bool{addrY: true}}
	cache := snapshot.New()
	p := NewPipeline(src, names, cache, Options{})

	res := p.RunCycle(context.Background(), 1)
	require.True(t, res.OK())
	require.Len(t, res.Failed, 1)
	require.Equal(t, "name", res.Failed[0].Op)
	require.Equal(t, 1, cache.Len())
	_, ok := cache.Get(addrY.Hex())
	require.False(t, ok)
}

func TestRunCycleListFailureLeavesCache(t *testing.T) {
	src := newFakeSource(addrX)
	cache := snapshot.New()
	p := NewPipeline(src, &fakeNames{}, cache, Options{})
	require.True(t, p.RunCycle(context.Background(), 1).OK())
	before := cache.ListAll()

	src.listErr = chain.ErrListValidators
	res := p.RunCycle(context.Background(), 2)
	require.False(t, res.OK())
	require.ErrorIs(t, res.Err, chain.ErrListValidators)
	require.Equal(t, 0, res.Listed)
	require.Equal(t, before, cache.ListAll())
	require.Equal(t, Idle, p.State())
}

func TestRunCycleAbortOnFetchFailure(t *testing.T) {
	src := newFakeSource(addrX, addrY)
	src.failOn[addrY] = "onchain"
	cache := snapshot.New()
	p := NewPipeline(src, &fakeNames{}, cache, Options{AbortOnFetchFailure: true})

	res := p.RunCycle(context.Background(), 1)
	require.False(t, res.OK())
	require.ErrorIs(t, res.Err, ErrCycleAborted)
	require.Equal(t, 0, res.Published)
	require.Equal(t, 0, cache.Len())
}

func TestRunCycleFetchTimeout(t *testing.T) {
	src := newFakeSource(addrX, addrY)
	src.hang[addrX] = true
	cache := snapshot.New()
	p := NewPipeline(src, &fakeNames{}, cache, Options{FetchTimeout: 50 * time.Millisecond})

	res := p.RunCycle(context.Background(), 1)
	require.True(t, res.OK())
	require.Len(t, res.Failed, 1)
	require.Equal(t, addrX, res.Failed[0].Address)
	require.ErrorIs(t, res.Failed[0], context.DeadlineExceeded)
	_, ok := cache.Get(addrY.Hex())
	require.True(t, ok)
}

func TestRunCycleConcurrencyCeiling(t *testing.T) {
	var addrs []common.Address
	for i := 1; i <= 12; i++ {
		addrs = append(addrs, common.BigToAddress(big.NewInt(int64(i))))
	}
	src := newFakeSource(addrs...)
	src.delay = 20 * time.Millisecond
	cache := snapshot.New()
	p := NewPipeline(src, &fakeNames{}, cache, Options{Concurrency: 3})

	res := p.RunCycle(context.Background(), 1)
	require.True(t, res.OK())
	require.Equal(t, 12, cache.Len())
	require.LessOrEqual(t, src.maxInFlight.Load(), int32(3))
	require.Greater(t, src.maxInFlight.Load(), int32(1))
}

func TestRunCycleStateTransitions(t *testing.T) {
	src := newFakeSource(addrX)
	p := NewPipeline(src, &fakeNames{}, snapshot.New(), Options{})

	var mu sync.Mutex
	var states []State
	p.stateHook = func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}

	p.RunCycle(context.Background(), 1)
	require.Equal(t, []State{Listing, Fetching, Merging, Published, Idle}, states)

	states = nil
	src.listErr = errBoom
	p.RunCycle(context.Background(), 2)
	require.Equal(t, []State{Listing, Idle}, states)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "published", Published.String())
	require.Equal(t, "state(9)", State(9).String())
}

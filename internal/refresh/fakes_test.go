package refresh

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"lecca.io/mind-watchtower/internal/chain"
)

var errBoom = errors.New("boom")

type fakeSource struct {
	mu         sync.Mutex
	validators []common.Address
	listErr    error
	stakes     map[common.Address]*big.Int
	rewards    map[common.Address]*big.Int
	off        map[common.Address]chain.OffChainStatus
	failOn     map[common.Address]string
	hang       map[common.Address]bool
	delay      time.Duration
	gate       chan struct{}

	listCalls   atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeSource(addrs ...common.Address) *fakeSource {
	return &fakeSource{
		validators: addrs,
		stakes:     make(map[common.Address]*big.Int),
		rewards:    make(map[common.Address]*big.Int),
		off:        make(map[common.Address]chain.OffChainStatus),
		failOn:     make(map[common.Address]string),
		hang:       make(map[common.Address]bool),
	}
}

func (f *fakeSource) setValidators(addrs ...common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validators = addrs
}

func (f *fakeSource) ListValidators(ctx context.Context) ([]common.Address, error) {
	f.listCalls.Inc()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]common.Address(nil), f.validators...), nil
}

func (f *fakeSource) FetchOnChain(ctx context.Context, addr common.Address) (*big.Int, *big.Int, error) {
	n := f.inFlight.Inc()
	defer f.inFlight.Dec()
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[addr] == "onchain" {
		return nil, nil, errBoom
	}
	stake := f.stakes[addr]
	if stake == nil {
		stake = big.NewInt(0)
	}
	rewards := f.rewards[addr]
	if rewards == nil {
		rewards = big.NewInt(0)
	}
	return stake, rewards, nil
}

func (f *fakeSource) FetchOffChain(ctx context.Context, addr common.Address) (chain.OffChainStatus, error) {
	f.mu.Lock()
	hang := f.hang[addr]
	fail := f.failOn[addr] == "offchain"
	off := f.off[addr]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return chain.OffChainStatus{}, ctx.Err()
	}
	if fail {
		return chain.OffChainStatus{}, errBoom
	}
	return off, nil
}

type fakeNames struct {
	names map[common.Address]string
	fail  map[common.Address]bool
}

func (n *fakeNames) Get(_ context.Context, addr common.Address) (string, bool, error) {
	if n.fail[addr] {
		return "", false, errBoom
	}
	name, ok := n.names[addr]
	return name, ok, nil
}

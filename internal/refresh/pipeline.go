// Package refresh rebuilds the validator snapshot on every new block.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"lecca.io/mind-watchtower/internal/chain"
	"lecca.io/mind-watchtower/internal/config"
	"lecca.io/mind-watchtower/internal/logger"
	"lecca.io/mind-watchtower/internal/snapshot"
	"lecca.io/mind-watchtower/internal/utils"
)

// ErrCycleAborted is set on a cycle discarded because one address failed
// while AbortOnFetchFailure is enabled.
var ErrCycleAborted = errors.New("refresh cycle aborted after fetch failure")

// ChainSource is the subset of chain.Reader the pipeline needs.
type ChainSource interface {
	ListValidators(ctx context.Context) ([]common.Address, error)
	FetchOnChain(ctx context.Context, addr common.Address) (*big.Int, *big.Int, error)
	FetchOffChain(ctx context.Context, addr common.Address) (chain.OffChainStatus, error)
}

// NameSource resolves operator-assigned names.
type NameSource interface {
	Get(ctx context.Context, addr common.Address) (string, bool, error)
}

// Publisher receives the merged records of a cycle.
type Publisher interface {
	Publish(recs ...snapshot.ValidatorRecord)
}

type State int32

const (
	Idle State = iota
	Listing
	Fetching
	Merging
	Published
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listing:
		return "listing"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	case Published:
		return "published"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options tune fan-out and timeouts. Zero timeouts disable the deadline.
type Options struct {
	Concurrency         int
	FetchTimeout        time.Duration
	CycleTimeout        time.Duration
	AbortOnFetchFailure bool
}

func OptionsFromConfig(cfg config.RefreshConfig) Options {
	return Options{
		Concurrency:         cfg.Concurrency,
		FetchTimeout:        config.ParseDuration(cfg.FetchTimeout),
		CycleTimeout:        config.ParseDuration(cfg.CycleTimeout),
		AbortOnFetchFailure: cfg.AbortOnFetchFailure,
	}
}

// FetchError is a per-address failure. It never aborts the cycle unless
// AbortOnFetchFailure is set.
type FetchError struct {
	Address common.Address
	Op      string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address.Hex(), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CycleResult summarizes one refresh cycle.
type CycleResult struct {
	Height    uint64
	Started   time.Time
	Duration  time.Duration
	Listed    int
	Published int
	Failed    []*FetchError
	Err       error
}

// OK reports whether the cycle published (possibly with some stale addresses).
func (r CycleResult) OK() bool {
	return r.Err == nil
}

type fetched struct {
	addr    common.Address
	stake   *big.Int
	rewards *big.Int
	off     chain.OffChainStatus
	name    string
}

type Pipeline struct {
	chain ChainSource
	names NameSource
	cache Publisher
	opts  Options

	state atomic.Int32

	resultMu   sync.RWMutex
	lastResult *CycleResult

	// stateHook observes transitions; tests only.
	stateHook func(State)
}

func NewPipeline(src ChainSource, names NameSource, cache Publisher, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	return &Pipeline{
		chain: src,
		names: names,
		cache: cache,
		opts:  opts,
	}
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	if p.stateHook != nil {
		p.stateHook(s)
	}
}

// LastResult returns the most recent cycle result, if any.
func (p *Pipeline) LastResult() (CycleResult, bool) {
	p.resultMu.RLock()
	defer p.resultMu.RUnlock()
	if p.lastResult == nil {
		return CycleResult{}, false
	}
	return *p.lastResult, true
}

// RunCycle lists validators, fetches every address concurrently, merges the
// results and publishes them as one snapshot change. Callers must not run
// cycles concurrently; the Scheduler guarantees that.
func (p *Pipeline) RunCycle(ctx context.Context, height uint64) CycleResult {
	res := CycleResult{Height: height, Started: time.Now()}
	defer func() {
		res.Duration = time.Since(res.Started)
		p.resultMu.Lock()
		p.lastResult = &res
		p.resultMu.Unlock()
		p.setState(Idle)
	}()

	if p.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.CycleTimeout)
		defer cancel()
	}

	p.setState(Listing)
	addrs, err := p.chain.ListValidators(ctx)
	if err != nil {
		res.Err = err
		logger.Error("REFRESH", "Block #%d | %v", height, err)
		return res
	}
	res.Listed = len(addrs)

	p.setState(Fetching)
	raw, failed := p.fetchAll(ctx, addrs)
	res.Failed = failed
	for _, fe := range failed {
		logger.WithFields("REFRESH", logrus.Fields{
			"address": fe.Address.Hex(),
			"op":      fe.Op,
			"block":   height,
		}).WithError(fe.Err).Warn("Validator refresh failed, keeping previous record")
	}

	if p.opts.AbortOnFetchFailure && len(failed) > 0 {
		res.Err = fmt.Errorf("%w: %d of %d addresses failed", ErrCycleAborted, len(failed), len(addrs))
		logger.Warn("REFRESH", "Block #%d | %v", height, res.Err)
		return res
	}

	p.setState(Merging)
	records := make([]snapshot.ValidatorRecord, 0, len(raw))
	for _, f := range raw {
		records = append(records, merge(f))
	}

	p.cache.Publish(records...)
	res.Published = len(records)
	p.setState(Published)

	logger.Info("REFRESH", "Block #%d | Refreshed %d/%d validators (%d stale)", height, len(records), len(addrs), len(failed))
	return res
}

// fetchAll returns successful fetches in list order plus per-address errors.
func (p *Pipeline) fetchAll(ctx context.Context, addrs []common.Address) ([]*fetched, []*FetchError) {
	sem := semaphore.NewWeighted(int64(p.opts.Concurrency))
	results := make([]*fetched, len(addrs))
	errs := make([]*FetchError, len(addrs))

	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = &FetchError{Address: addr, Op: "acquire", Err: err}
				return
			}
			defer sem.Release(1)

			results[i], errs[i] = p.fetchOne(ctx, addr)
		}(i, addr)
	}
	wg.Wait()

	var ok []*fetched
	var failed []*FetchError
	for i := range addrs {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		ok = append(ok, results[i])
	}
	return ok, failed
}

// fetchOne runs the on-chain, off-chain and name lookups for one address.
// Any failure fails the whole address.
func (p *Pipeline) fetchOne(ctx context.Context, addr common.Address) (*fetched, *FetchError) {
	if p.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.FetchTimeout)
		defer cancel()
	}

	f := &fetched{addr: addr}
	var fetchErr *FetchError
	var once sync.Once
	fail := func(op string, err error) error {
		once.Do(func() {
			fetchErr = &FetchError{Address: addr, Op: op, Err: err}
		})
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stake, rewards, err := p.chain.FetchOnChain(gctx, addr)
		if err != nil {
			return fail("onchain", err)
		}
		f.stake, f.rewards = stake, rewards
		return nil
	})
	g.Go(func() error {
		off, err := p.chain.FetchOffChain(gctx, addr)
		if err != nil {
			return fail("offchain", err)
		}
		f.off = off
		return nil
	})
	g.Go(func() error {
		name, _, err := p.names.Get(gctx, addr)
		if err != nil {
			return fail("name", err)
		}
		f.name = name
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fetchErr
	}
	return f, nil
}

func merge(f *fetched) snapshot.ValidatorRecord {
	status := snapshot.StatusInactive
	if f.off.IsActive {
		status = snapshot.StatusActive
	}
	return snapshot.ValidatorRecord{
		Address:               f.addr.Hex(),
		Name:                  f.name,
		Stake:                 utils.FormatStake(f.stake),
		Rewards:               utils.FormatRewards(f.rewards),
		ValidatedBlocksCount:  f.off.ValidatedCount,
		ValidatedBlocksStatus: status,
	}
}

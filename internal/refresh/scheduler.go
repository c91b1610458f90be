package refresh

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/atomic"
	"lecca.io/mind-watchtower/internal/logger"
)

// Scheduler drives the pipeline from block notifications. Cycles never
// overlap; blocks arriving mid-cycle collapse into one pending re-run.
type Scheduler struct {
	pipeline *Pipeline
	blocks   <-chan *types.Header
	hooks    []func(CycleResult)

	latest    atomic.Uint64
	cycles    atomic.Uint64
	coalesced atomic.Uint64
}

func NewScheduler(p *Pipeline, blocks <-chan *types.Header) *Scheduler {
	return &Scheduler{
		pipeline: p,
		blocks:   blocks,
	}
}

// OnCycle registers fn to run after every cycle. Call before Run.
func (s *Scheduler) OnCycle(fn func(CycleResult)) {
	s.hooks = append(s.hooks, fn)
}

// Cycles returns how many cycles have completed.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// Coalesced returns how many block triggers were folded into a pending run.
func (s *Scheduler) Coalesced() uint64 {
	return s.coalesced.Load()
}

// Run performs the startup cycle, then one cycle per block until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	// Capacity one: a full buffer is the single pending re-run.
	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	go s.receive(ctx, trigger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("REFRESH", "Scheduler stopped after %d cycles", s.cycles.Load())
			return
		case <-trigger:
			res := s.pipeline.RunCycle(ctx, s.latest.Load())
			s.cycles.Inc()
			for _, fn := range s.hooks {
				fn(res)
			}
		}
	}
}

func (s *Scheduler) receive(ctx context.Context, trigger chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case header, ok := <-s.blocks:
			if !ok {
				return
			}
			if header == nil {
				continue
			}
			if header.Number != nil && header.Number.Uint64() > s.latest.Load() {
				s.latest.Store(header.Number.Uint64())
			}
			select {
			case trigger <- struct{}{}:
			default:
				s.coalesced.Inc()
				logger.Debug("REFRESH", "Block #%d coalesced into pending refresh", s.latest.Load())
			}
		}
	}
}

// Package ws follows newHeads on every node that has a websocket endpoint and
// forwards each block height once.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"lecca.io/mind-watchtower/internal/logger"
	"lecca.io/mind-watchtower/internal/rpc"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 60 * time.Second

	// Heights further than this below the highest forwarded block are forgotten.
	seenDepth = 1000
)

// HeightTracker receives the heights a node reports over its subscription.
type HeightTracker interface {
	UpdateHeight(height uint64)
}

type Listener struct {
	nodeMgr *rpc.Manager
	blockCh chan<- *types.Header

	mu      sync.Mutex
	seen    map[uint64]struct{}
	highest uint64
}

func NewListener(nodeMgr *rpc.Manager, blockCh chan<- *types.Header) *Listener {
	return &Listener{
		nodeMgr: nodeMgr,
		blockCh: blockCh,
		seen:    make(map[uint64]struct{}),
	}
}

// Start subscribes every websocket-enabled node and returns how many
// subscriptions were started.
func (l *Listener) Start(ctx context.Context) int {
	started := 0
	for _, n := range l.nodeMgr.GetNodes() {
		if n.Config.WS == "" {
			continue
		}
		started++
		go l.subscribeNode(ctx, n)
	}
	if started == 0 {
		logger.Warn("WS", "No node has a ws endpoint, refreshes will only run at startup")
	}
	return started
}

func (l *Listener) subscribeNode(ctx context.Context, node *rpc.Node) {
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		client, err := ethclient.DialContext(ctx, node.Config.WS)
		if err != nil {
			logger.Warn("WS", "Connection failed to %s: %s. Retrying in %v", node.Config.Label, node.Redact(err.Error()), backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		headers := make(chan *types.Header)
		sub, err := client.SubscribeNewHead(ctx, headers)
		if err != nil {
			client.Close()
			logger.Warn("WS", "Subscribe failed for %s: %s", node.Config.Label, node.Redact(err.Error()))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		logger.Info("WS", "Subscribed to newHeads via %s", node.Config.Label)

		stop := l.consume(ctx, node, sub.Err(), headers)
		sub.Unsubscribe()
		client.Close()
		if stop {
			return
		}
		if !sleep(ctx, minBackoff) {
			return
		}
	}
}

// consume forwards headers until the subscription fails. It returns true
// when ctx is done.
func (l *Listener) consume(ctx context.Context, node *rpc.Node, errs <-chan error, headers <-chan *types.Header) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-errs:
			logger.Warn("WS", "Subscription error from %s: %v", node.Config.Label, err)
			return false
		case header := <-headers:
			if !l.forward(ctx, node, header) {
				return true
			}
		}
	}
}

// forward records the height on the node and passes the header on if no
// other node delivered it first. It returns false only when ctx is done.
func (l *Listener) forward(ctx context.Context, node HeightTracker, header *types.Header) bool {
	if header == nil || header.Number == nil {
		return true
	}
	height := header.Number.Uint64()
	node.UpdateHeight(height)

	if !l.markSeen(height) {
		return true
	}

	select {
	case l.blockCh <- header:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) markSeen(height uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[height]; ok {
		return false
	}
	if l.highest > seenDepth && height < l.highest-seenDepth {
		return false
	}
	l.seen[height] = struct{}{}

	if height > l.highest {
		l.highest = height
		if l.highest > seenDepth {
			floor := l.highest - seenDepth
			for h := range l.seen {
				if h < floor {
					delete(l.seen, h)
				}
			}
		}
	}
	return true
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

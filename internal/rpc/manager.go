package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"lecca.io/mind-watchtower/internal/config"
	"lecca.io/mind-watchtower/internal/logger"
)

// ErrNoHealthyNode is returned when no configured node can serve a call.
var ErrNoHealthyNode = errors.New("no healthy node available")

func sanitizeRPCError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.Contains(msg, "<html") || strings.Contains(msg, "<HTML") {
		// Keep the status line before HTML payload, if present
		if idx := strings.Index(strings.ToLower(msg), "<html"); idx > 0 {
			return strings.TrimSpace(msg[:idx])
		}
		return "HTTP error response"
	}
	return msg
}

// RedactURL keeps only scheme and host. Provider endpoints carry API keys
// in userinfo, path or query.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	return u.Scheme + "://" + u.Host
}

// Redact replaces the node's configured endpoints in msg with their
// redacted form.
func (n *Node) Redact(msg string) string {
	for _, endpoint := range []string{n.Config.RPC, n.Config.WS} {
		if endpoint != "" {
			msg = strings.ReplaceAll(msg, endpoint, RedactURL(endpoint))
		}
	}
	return msg
}

// LastErrorText returns the last check error with endpoints redacted.
func (n *Node) LastErrorText() string {
	st := n.GetStatus()
	if st.LastError == nil {
		return ""
	}
	return n.Redact(sanitizeRPCError(st.LastError))
}

type NodeStatus struct {
	Healthy     bool
	BlockHeight uint64
	Syncing     bool
	Latency     time.Duration
	LastError   error
	LastCheck   time.Time
}

type Node struct {
	Config config.NodeConfig
	client *ethclient.Client
	raw    *rpc.Client
	Status NodeStatus
	mu     sync.RWMutex
}

type Manager struct {
	nodes    []*Node
	timeout  time.Duration
	interval time.Duration
}

func NewManager(cfg []config.NodeConfig, advanced config.AdvancedConfig) *Manager {
	var nodes []*Node
	for _, nc := range cfg {
		nodes = append(nodes, &Node{
			Config: nc,
		})
	}

	timeout := config.ParseDuration(advanced.RPCTimeout)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := config.ParseDuration(advanced.HealthInterval)
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Manager{
		nodes:    nodes,
		timeout:  timeout,
		interval: interval,
	}
}

func (m *Manager) Start(ctx context.Context) {
	logger.Info("RPC", "Starting initial check for %d nodes...", len(m.nodes))
	m.checkAll(ctx)

	active := 0
	for _, n := range m.nodes {
		status := "DOWN"
		st := n.GetStatus()
		if st.Healthy {
			status = fmt.Sprintf("UP (Height: %d)", st.BlockHeight)
			active++
		}
		logger.Info("RPC", "Node '%s' : %s", n.Config.Label, status)
	}
	logger.Info("RPC", "Active nodes: %d/%d", active, len(m.nodes))

	ticker := time.NewTicker(m.interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				m.closeAll()
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()
}

func (m *Manager) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, n := range m.nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			m.checkNode(ctx, node)
		}(n)
	}
	wg.Wait()
}

func (m *Manager) checkNode(ctx context.Context, n *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()

	if n.raw == nil {
		raw, err := rpc.DialContext(ctx, n.Config.RPC)
		if err != nil {
			logger.Warn("NODE", "%s connection failed: %s", n.Config.Label, n.Redact(sanitizeRPCError(err)))
			n.markDown(err)
			return
		}
		n.raw = raw
		n.client = ethclient.NewClient(raw)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	height, err := n.client.BlockNumber(ctxWithTimeout)
	if err != nil {
		logger.Warn("NODE", "%s check failed: %s", n.Config.Label, n.Redact(sanitizeRPCError(err)))
		n.markDown(err)
		n.raw.Close()
		n.raw = nil
		n.client = nil
		return
	}

	syncing, err := n.client.SyncProgress(ctxWithTimeout)
	if err != nil {
		n.markDown(err)
		return
	}

	n.Status.Healthy = true
	// Nodes without a WS endpoint never get heights from the listener.
	if n.Config.WS == "" && height > n.Status.BlockHeight {
		n.Status.BlockHeight = height
	}
	n.Status.Syncing = (syncing != nil)
	n.Status.Latency = time.Since(start)
	n.Status.LastError = nil
	n.Status.LastCheck = time.Now()
}

// markDown must be called with n.mu held.
func (n *Node) markDown(err error) {
	n.Status.Healthy = false
	n.Status.LastError = err
	n.Status.LastCheck = time.Now()
}

func (m *Manager) closeAll() {
	for _, n := range m.nodes {
		n.mu.Lock()
		if n.raw != nil {
			n.raw.Close()
			n.raw = nil
			n.client = nil
		}
		n.mu.Unlock()
	}
}

type candidate struct {
	node   *Node
	status NodeStatus
}

func (m *Manager) GetBestNode() *Node {
	var candidates []candidate
	for _, n := range m.nodes {
		st := n.GetStatus()
		if st.Healthy && !st.Syncing {
			candidates = append(candidates, candidate{node: n, status: st})
		}
	}

	if len(candidates) == 0 {
		for _, n := range m.nodes {
			st := n.GetStatus()
			if st.Healthy {
				candidates = append(candidates, candidate{node: n, status: st})
			}
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].status.BlockHeight != candidates[j].status.BlockHeight {
			return candidates[i].status.BlockHeight > candidates[j].status.BlockHeight
		}
		return candidates[i].status.Latency < candidates[j].status.Latency
	})

	return candidates[0].node
}

func (m *Manager) GetNodes() []*Node {
	return m.nodes
}

// CallContract routes a read-only contract call to the best node.
func (m *Manager) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	node := m.GetBestNode()
	if node == nil {
		return nil, ErrNoHealthyNode
	}
	client := node.Client()
	if client == nil {
		return nil, fmt.Errorf("%w: %s lost its connection", ErrNoHealthyNode, node.Config.Label)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := client.CallContract(ctxWithTimeout, call, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("call via %s: %s", node.Config.Label, node.Redact(sanitizeRPCError(err)))
	}
	return res, nil
}

// Client returns the node's current client, or nil while disconnected.
func (n *Node) Client() *ethclient.Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.client
}

// GetStatus returns a copy of the node status in a thread-safe manner
func (n *Node) GetStatus() NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Status
}

// UpdateHeight updates the block height of the node in a thread-safe manner
// This is used when receiving blocks via WebSocket for real-time updates
func (n *Node) UpdateHeight(height uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height > n.Status.BlockHeight {
		n.Status.BlockHeight = height
		n.Status.LastCheck = time.Now()
	}
}

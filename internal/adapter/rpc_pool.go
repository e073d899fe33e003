package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chain-ledger/internal/logging"
)

// RPCPool manages multiple EVM RPC endpoints with failover on rate limiting.
// The pool sticks to the current endpoint until it returns 429, then moves to
// the next one that is out of cooldown.
type RPCPool struct {
	endpoints    []string
	clients      []*ethclient.Client
	currentIndex int
	mu           sync.RWMutex
	cooldowns    map[int]time.Time
	cooldownTime time.Duration
	logger       *logging.Logger
}

// RPCPoolConfig holds configuration for creating an RPC pool.
type RPCPoolConfig struct {
	// Endpoints is a list of RPC URLs.
	Endpoints []string
	// CooldownTime is how long a rate-limited endpoint sits out.
	// Default: 60 seconds.
	CooldownTime time.Duration
}

// NewRPCPool creates a pool and connects to the first endpoint. The rest are
// dialed lazily on failover.
func NewRPCPool(cfg *RPCPoolConfig) (*RPCPool, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	cooldownTime := cfg.CooldownTime
	if cooldownTime == 0 {
		cooldownTime = 60 * time.Second
	}

	pool := &RPCPool{
		endpoints:    cfg.Endpoints,
		clients:      make([]*ethclient.Client, len(cfg.Endpoints)),
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldownTime,
		logger:       logging.WithField("component", "rpc_pool"),
	}

	client, err := ethclient.Dial(cfg.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	pool.clients[0] = client

	return pool, nil
}

// NewRPCPoolFromURLs creates an RPC pool from comma-separated URLs.
func NewRPCPoolFromURLs(urls string) (*RPCPool, error) {
	var endpoints []string
	for _, ep := range strings.Split(urls, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}

	return NewRPCPool(&RPCPoolConfig{Endpoints: endpoints})
}

// Client returns the current active client.
func (p *RPCPool) Client() *ethclient.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.clients[p.currentIndex]
}

// CurrentURL returns the current active RPC URL.
func (p *RPCPool) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.endpoints[p.currentIndex]
}

// EndpointCount returns the number of endpoints in the pool.
func (p *RPCPool) EndpointCount() int {
	return len(p.endpoints)
}

// Execute runs fn against the current client and retries on the next
// endpoint when the error indicates rate limiting. Non-rate-limit errors are
// returned as-is.
func (p *RPCPool) Execute(ctx context.Context, fn func(client *ethclient.Client) error) error {
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		err := fn(p.Client())
		if err == nil {
			return nil
		}
		if !IsRateLimitError(err) {
			return err
		}
		if rotateErr := p.onRateLimited(); rotateErr != nil {
			return fmt.Errorf("%w (last endpoint error: %v)", rotateErr, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("all %d RPC endpoints are rate limited", len(p.endpoints))
}

// onRateLimited marks the current endpoint as cooling down and switches to
// the next available one.
func (p *RPCPool) onRateLimited() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldowns[p.currentIndex] = time.Now()
	p.logger.Warnf("endpoint %d rate limited, entering cooldown", p.currentIndex)

	for i := 0; i < len(p.endpoints); i++ {
		nextIndex := (p.currentIndex + 1 + i) % len(p.endpoints)

		if limitedAt, exists := p.cooldowns[nextIndex]; exists {
			if time.Since(limitedAt) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, nextIndex)
		}

		if err := p.switchToEndpoint(nextIndex); err != nil {
			p.logger.Warnf("failed to switch to endpoint %d: %v", nextIndex, err)
			continue
		}
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints are rate limited", len(p.endpoints))
}

// switchToEndpoint switches to a specific endpoint. Caller must hold the lock.
func (p *RPCPool) switchToEndpoint(index int) error {
	if p.clients[index] == nil {
		client, err := ethclient.Dial(p.endpoints[index])
		if err != nil {
			return fmt.Errorf("failed to connect to endpoint %d: %w", index, err)
		}
		p.clients[index] = client
	}

	p.currentIndex = index
	return nil
}

// TryResetToPrimary switches back to the primary endpoint if its cooldown has
// expired. Call periodically to prefer the primary.
func (p *RPCPool) TryResetToPrimary() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentIndex == 0 {
		return true
	}

	if limitedAt, exists := p.cooldowns[0]; exists {
		if time.Since(limitedAt) < p.cooldownTime {
			return false
		}
		delete(p.cooldowns, 0)
	}

	if err := p.switchToEndpoint(0); err != nil {
		return false
	}
	return true
}

// IsRateLimitError checks if an error indicates rate limiting (429).
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "throttl")
}

// Close closes all client connections.
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if client != nil {
			client.Close()
			p.clients[i] = nil
		}
	}
}

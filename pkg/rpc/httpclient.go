package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ErrNoEndpoints is returned when every configured endpoint is unavailable.
var ErrNoEndpoints = errors.New("no endpoints available")

type endpoint struct {
	url string
	eth *ethclient.Client
}

// HTTPClient reads contracts over JSON-RPC through one ethclient per endpoint, behind a
// shared token-bucket and a per-endpoint circuit-breaker.
type HTTPClient struct {
	endpoints []endpoint

	// acl and fromBlock bound permission log scans.
	acl       common.Address
	fromBlock uint64

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client

	// ACL is the organization's access control list. Zero disables permission lookups.
	ACL common.Address
	// FromBlock is the first block scanned for SetPermission logs.
	FromBlock uint64
}

// NewHTTPWithOpts creates a new HTTPClient with the given options. HTTP endpoints are
// dialed lazily, so an unreachable node fails on first use rather than here.
func NewHTTPWithOpts(o Opts) (*HTTPClient, error) {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		acl:              o.ACL,
		fromBlock:        o.FromBlock,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	for _, url := range uniqueEndpoints(o.Endpoints) {
		rc, err := gethrpc.DialOptions(context.Background(), url, gethrpc.WithHTTPClient(client))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		c.endpoints = append(c.endpoints, endpoint{url: url, eth: ethclient.NewClient(rc)})
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c, nil
}

// Close releases every endpoint connection.
func (c *HTTPClient) Close() {
	for _, ep := range c.endpoints {
		ep.eth.Close()
	}
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token from the bucket, waiting while it is empty. It gives up when ctx ends.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen returns true while the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the circuit-breaker if the failure count exceeds the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

// noteSuccess resets the failure counter of ep.
func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// do runs fn against the first healthy endpoint. Transport failures count against the
// endpoint's breaker and fail over to the next one. A JSON-RPC error means the node
// answered (a revert, a bad request) and is returned as is.
func (c *HTTPClient) do(ctx context.Context, fn func(eth *ethclient.Client) error) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	lastErr := ErrNoEndpoints
	for _, ep := range c.endpoints {
		if c.isOpen(ep.url) {
			continue
		}
		if err := c.acquire(ctx); err != nil {
			return err
		}

		err := fn(ep.eth)
		if err == nil {
			c.noteSuccess(ep.url)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var rpcErr gethrpc.Error
		if errors.As(err, &rpcErr) {
			c.noteSuccess(ep.url)
			return err
		}
		lastErr = err
		c.noteFailure(ep.url)
	}

	return lastErr
}

// uniqueEndpoints drops duplicates and trailing slashes, keeping failover order.
func uniqueEndpoints(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, ep := range in {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}

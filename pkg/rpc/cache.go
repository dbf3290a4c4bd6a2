package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultTokenCacheSize bounds the number of tokens whose metadata is kept in memory.
const DefaultTokenCacheSize = 1024

type tokenKey struct {
	token  common.Address
	method string
}

// CachedClient memoizes immutable ERC20 metadata (symbol, decimals). Every other call passes through.
type CachedClient struct {
	Client
	cache *lru.Cache
}

// NewCachedClient wraps inner with an LRU of the given size (DefaultTokenCacheSize when <= 0).
func NewCachedClient(inner Client, size int) (*CachedClient, error) {
	if size <= 0 {
		size = DefaultTokenCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedClient{Client: inner, cache: cache}, nil
}

func (c *CachedClient) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	key := tokenKey{token: token, method: methodSymbol}
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}
	symbol, err := c.Client.TokenSymbol(ctx, token)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, symbol)
	return symbol, nil
}

func (c *CachedClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	key := tokenKey{token: token, method: methodDecimals}
	if v, ok := c.cache.Get(key); ok {
		return v.(uint8), nil
	}
	decimals, err := c.Client.TokenDecimals(ctx, token)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, decimals)
	return decimals, nil
}

// Len reports the number of cached entries.
func (c *CachedClient) Len() int {
	return c.cache.Len()
}

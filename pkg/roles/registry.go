// Package roles keeps the permission role labels shown next to committee permissions.
// It is read-mostly and lives outside the event-sourced snapshot.
package roles

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/p2pmodels/committees/pkg/retry"
	"github.com/p2pmodels/committees/pkg/rpc"
)

// Fetcher lists the roles published by the organization.
type Fetcher interface {
	Roles(ctx context.Context) ([]rpc.Role, error)
}

// Role is a registry entry.
type Role struct {
	// Hash is the 0x-hex keccak256 of ID, the identifier permissions are keyed by.
	Hash string `json:"hash"`
	// ID is the role constant, e.g. "ADD_MEMBER_ROLE".
	ID string `json:"id"`
	// Label is the human readable name.
	Label string `json:"label"`
}

// Hash returns the 0x-hex keccak256 of a role constant.
func Hash(id string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(id))
	return hexutil.Encode(h.Sum(nil))
}

type Registry struct {
	fetcher Fetcher
	retry   retry.Config
	logger  *zap.Logger

	roles    *xsync.Map[string, Role]
	loadedAt atomic.Pointer[time.Time]
}

func NewRegistry(fetcher Fetcher, cfg retry.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		fetcher: fetcher,
		retry:   cfg,
		logger:  logger,
		roles:   xsync.NewMap[string, Role](),
	}
}

// Refresh fetches the role list and replaces the registry contents. On failure the
// previous contents are kept.
func (r *Registry) Refresh(ctx context.Context) error {
	var fetched []rpc.Role
	err := retry.WithBackoff(ctx, r.retry, r.logger, "fetch roles", func() error {
		var err error
		fetched, err = r.fetcher.Roles(ctx)
		return err
	})
	if err != nil {
		return err
	}

	next := make(map[string]Role, len(fetched))
	for _, fr := range fetched {
		role, err := toRole(fr)
		if err != nil {
			r.logger.Warn("skipping role", zap.String("id", fr.ID), zap.Error(err))
			continue
		}
		next[role.Hash] = role
	}

	for hash, role := range next {
		r.roles.Store(hash, role)
	}
	r.roles.Range(func(hash string, _ Role) bool {
		if _, ok := next[hash]; !ok {
			r.roles.Delete(hash)
		}
		return true
	})

	now := time.Now()
	r.loadedAt.Store(&now)
	r.logger.Debug("roles refreshed", zap.Int("count", len(next)))
	return nil
}

func toRole(fr rpc.Role) (Role, error) {
	if fr.ID == "" {
		return Role{}, errors.New("role without id")
	}
	hash := Hash(fr.ID)
	if fr.Bytes != "" {
		b, err := hexutil.Decode(fr.Bytes)
		if err != nil || len(b) != 32 {
			return Role{}, fmt.Errorf("role %s: invalid bytes %q", fr.ID, fr.Bytes)
		}
		hash = hexutil.Encode(b)
	}
	label := fr.Name
	if label == "" {
		label = fr.ID
	}
	return Role{Hash: hash, ID: fr.ID, Label: label}, nil
}

// Lookup resolves a role by its hash (any case, with or without 0x) or by its constant name.
func (r *Registry) Lookup(key string) (Role, bool) {
	if role, ok := r.roles.Load(normalizeHash(key)); ok {
		return role, true
	}
	return r.roles.Load(Hash(key))
}

func normalizeHash(key string) string {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X"))
	if len(s) != 64 {
		return key
	}
	if _, err := hex.DecodeString(s); err != nil {
		return key
	}
	return "0x" + s
}

// All returns every role sorted by ID.
func (r *Registry) All() []Role {
	out := make([]Role, 0, r.roles.Size())
	r.roles.Range(func(_ string, role Role) bool {
		out = append(out, role)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedAt reports when the registry was last refreshed successfully.
func (r *Registry) LoadedAt() (time.Time, bool) {
	if t := r.loadedAt.Load(); t != nil {
		return *t, true
	}
	return time.Time{}, false
}

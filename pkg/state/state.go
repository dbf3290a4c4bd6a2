// Package state holds the committees aggregate and its pure transforms.
//
// A *Snapshot is immutable once published: every transform returns a new
// value and shares untouched committees (and their member slices) with the
// previous one.
package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/p2pmodels/committees/pkg/decode"
)

var (
	// ErrReferentialMiss is returned when a transform targets a committee or member that is not present.
	ErrReferentialMiss = errors.New("referential miss")
	// ErrDuplicate is returned when a committee with the same address already exists.
	ErrDuplicate = errors.New("committee already exists")
	// ErrIncomplete is returned when a committee is missing enrichment fields.
	ErrIncomplete = errors.New("committee not fully materialized")
)

type Member struct {
	Address common.Address `json:"address"`
	Stake   *big.Int       `json:"stake"`
}

type Committee struct {
	Address        common.Address     `json:"address"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	VotingAddress  common.Address     `json:"votingAddress"`
	FinanceAddress string             `json:"financeAddress"`
	TokenAddress   common.Address     `json:"tokenAddress"`
	TokenParams    decode.TokenParams `json:"tokenParams"`
	TokenClass     decode.TokenClass  `json:"tokenClass"`
	Voting         decode.VotingClass `json:"votingParams"`
	TokenSymbol    string             `json:"tokenSymbol"`
	Members        []Member           `json:"members"`
}

// Complete reports whether every enrichment-derived field is populated.
func (c *Committee) Complete() error {
	switch {
	case c.Address == (common.Address{}):
		return fmt.Errorf("%w: empty address", ErrIncomplete)
	case c.VotingAddress == (common.Address{}):
		return fmt.Errorf("%w: %s has no voting address", ErrIncomplete, c.Address.Hex())
	case c.TokenAddress == (common.Address{}):
		return fmt.Errorf("%w: %s has no token address", ErrIncomplete, c.Address.Hex())
	case !c.TokenClass.Valid():
		return fmt.Errorf("%w: %s has no token classification", ErrIncomplete, c.Address.Hex())
	case decode.ClassifyToken(c.TokenParams) != c.TokenClass:
		return fmt.Errorf("%w: %s token classification disagrees with its params", ErrIncomplete, c.Address.Hex())
	}
	return nil
}

// Cumulative is true when member stakes are additive weights.
func (c *Committee) Cumulative() bool {
	return c.TokenClass.Cumulative()
}

// Member returns the member entry for addr.
func (c *Committee) Member(addr common.Address) (Member, bool) {
	if i := c.memberIndex(addr); i >= 0 {
		return c.Members[i], true
	}
	return Member{}, false
}

func (c *Committee) memberIndex(addr common.Address) int {
	for i := range c.Members {
		if c.Members[i].Address == addr {
			return i
		}
	}
	return -1
}

// Snapshot is the state document readers observe.
type Snapshot struct {
	// Seq is the sequence number of the last event whose effect is included.
	Seq        uint64      `json:"seq"`
	Committees []Committee `json:"committees"`
	IsSyncing  bool        `json:"isSyncing"`
}

// Empty returns the initial document.
func Empty() *Snapshot {
	return &Snapshot{Committees: []Committee{}}
}

// Committee returns a copy of the committee at addr.
func (s *Snapshot) Committee(addr common.Address) (Committee, bool) {
	if i := s.index(addr); i >= 0 {
		return s.Committees[i], true
	}
	return Committee{}, false
}

// Has reports whether a committee at addr exists.
func (s *Snapshot) Has(addr common.Address) bool {
	return s.index(addr) >= 0
}

func (s *Snapshot) index(addr common.Address) int {
	for i := range s.Committees {
		if s.Committees[i].Address == addr {
			return i
		}
	}
	return -1
}

// next copies the top-level document. Committee values are copied, member slices are shared.
func (s *Snapshot) next(seq uint64) *Snapshot {
	committees := make([]Committee, len(s.Committees), len(s.Committees)+1)
	copy(committees, s.Committees)
	return &Snapshot{Seq: seq, Committees: committees, IsSyncing: s.IsSyncing}
}

// AddCommittee appends a fully materialized committee with an empty member list.
func (s *Snapshot) AddCommittee(seq uint64, c Committee) (*Snapshot, error) {
	if err := c.Complete(); err != nil {
		return s, err
	}
	if s.Has(c.Address) {
		return s, fmt.Errorf("%w: %s", ErrDuplicate, c.Address.Hex())
	}
	c.Members = []Member{}
	out := s.next(seq)
	out.Committees = append(out.Committees, c)
	return out, nil
}

// RemoveCommittee drops the committee at addr.
func (s *Snapshot) RemoveCommittee(seq uint64, addr common.Address) (*Snapshot, error) {
	i := s.index(addr)
	if i < 0 {
		return s, fmt.Errorf("%w: committee %s", ErrReferentialMiss, addr.Hex())
	}
	out := &Snapshot{Seq: seq, IsSyncing: s.IsSyncing, Committees: make([]Committee, 0, len(s.Committees)-1)}
	out.Committees = append(out.Committees, s.Committees[:i]...)
	out.Committees = append(out.Committees, s.Committees[i+1:]...)
	return out, nil
}

// UpsertMember inserts member or replaces its stake (last write wins).
func (s *Snapshot) UpsertMember(seq uint64, committee, member common.Address, stake *big.Int) (*Snapshot, error) {
	i := s.index(committee)
	if i < 0 {
		return s, fmt.Errorf("%w: committee %s", ErrReferentialMiss, committee.Hex())
	}
	if stake == nil {
		stake = new(big.Int)
	}
	if stake.Sign() < 0 {
		return s, fmt.Errorf("negative stake %s for member %s", stake, member.Hex())
	}

	entry := Member{Address: member, Stake: new(big.Int).Set(stake)}
	c := s.Committees[i]
	members := make([]Member, len(c.Members), len(c.Members)+1)
	copy(members, c.Members)
	if j := c.memberIndex(member); j >= 0 {
		members[j] = entry
	} else {
		members = append(members, entry)
	}
	c.Members = members

	out := s.next(seq)
	out.Committees[i] = c
	return out, nil
}

// RemoveMember deletes member from committee.
func (s *Snapshot) RemoveMember(seq uint64, committee, member common.Address) (*Snapshot, error) {
	i := s.index(committee)
	if i < 0 {
		return s, fmt.Errorf("%w: committee %s", ErrReferentialMiss, committee.Hex())
	}
	c := s.Committees[i]
	j := c.memberIndex(member)
	if j < 0 {
		return s, fmt.Errorf("%w: member %s of %s", ErrReferentialMiss, member.Hex(), committee.Hex())
	}
	members := make([]Member, 0, len(c.Members)-1)
	members = append(members, c.Members[:j]...)
	members = append(members, c.Members[j+1:]...)
	c.Members = members

	out := s.next(seq)
	out.Committees[i] = c
	return out, nil
}

// SetSyncing toggles the sync-status flag. Setting the current value returns s unchanged.
func (s *Snapshot) SetSyncing(seq uint64, syncing bool) *Snapshot {
	if s.IsSyncing == syncing {
		return s
	}
	out := s.next(seq)
	out.IsSyncing = syncing
	return out
}

// Validate checks the structural invariants every published snapshot must hold.
func (s *Snapshot) Validate() error {
	seen := make(map[common.Address]struct{}, len(s.Committees))
	for i := range s.Committees {
		c := &s.Committees[i]
		if _, dup := seen[c.Address]; dup {
			return fmt.Errorf("%w: %s appears twice", ErrDuplicate, c.Address.Hex())
		}
		seen[c.Address] = struct{}{}
		if err := c.Complete(); err != nil {
			return err
		}
		members := make(map[common.Address]struct{}, len(c.Members))
		for _, m := range c.Members {
			if _, dup := members[m.Address]; dup {
				return fmt.Errorf("member %s appears twice in %s", m.Address.Hex(), c.Address.Hex())
			}
			members[m.Address] = struct{}{}
			if m.Stake == nil || m.Stake.Sign() < 0 {
				return fmt.Errorf("member %s of %s has invalid stake", m.Address.Hex(), c.Address.Hex())
			}
		}
	}
	return nil
}

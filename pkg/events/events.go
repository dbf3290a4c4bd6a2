// Package events defines the closed set of domain events the reducer understands.
package events

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/p2pmodels/committees/pkg/decode"
)

// Kind identifies an event variant.
type Kind string

const (
	KindCreateCommittee   Kind = "CreateCommittee"
	KindRemoveCommittee   Kind = "RemoveCommittee"
	KindAddMember         Kind = "AddMember"
	KindRemoveMember      Kind = "RemoveMember"
	KindSyncStatusSyncing Kind = "SyncStatusSyncing"
	KindSyncStatusSynced  Kind = "SyncStatusSynced"
	KindUnknown           Kind = "Unknown"
)

// Payload field names as emitted by the committees contract.
const (
	FieldCommittee   = "committeeAddress"
	FieldVoting      = "votingAddress"
	FieldName        = "name"
	FieldDescription = "description"
	FieldMember      = "member"
	FieldStake       = "stake"
)

// Raw is an event as delivered by a source, before decoding.
type Raw struct {
	// Seq is assigned by the reducer on submission; sources may leave it zero.
	Seq     uint64         `json:"seq"`
	Name    string         `json:"name"`
	Payload decode.Payload `json:"payload"`
	// Ref is the source position (stream entry id, log index); informational only.
	Ref string `json:"ref,omitempty"`
}

// Event is implemented by every variant. The set is closed: only this package defines variants.
type Event interface {
	Kind() Kind
	isEvent()
}

type CreateCommittee struct {
	Committee   common.Address
	Voting      common.Address
	Name        string
	Description string
}

type RemoveCommittee struct {
	Committee common.Address
}

type AddMember struct {
	Committee common.Address
	Member    common.Address
	Stake     *big.Int
}

type RemoveMember struct {
	Committee common.Address
	Member    common.Address
}

type SyncStatusSyncing struct{}

type SyncStatusSynced struct{}

// Unknown carries the original name of an event the reducer does not handle.
type Unknown struct {
	Name string
}

func (CreateCommittee) Kind() Kind   { return KindCreateCommittee }
func (RemoveCommittee) Kind() Kind   { return KindRemoveCommittee }
func (AddMember) Kind() Kind         { return KindAddMember }
func (RemoveMember) Kind() Kind      { return KindRemoveMember }
func (SyncStatusSyncing) Kind() Kind { return KindSyncStatusSyncing }
func (SyncStatusSynced) Kind() Kind  { return KindSyncStatusSynced }
func (Unknown) Kind() Kind           { return KindUnknown }

func (CreateCommittee) isEvent()   {}
func (RemoveCommittee) isEvent()   {}
func (AddMember) isEvent()         {}
func (RemoveMember) isEvent()      {}
func (SyncStatusSyncing) isEvent() {}
func (SyncStatusSynced) isEvent()  {}
func (Unknown) isEvent()           {}

// DetectKind normalizes an event name. Lifecycle markers are accepted in the
// SYNC_STATUS_SYNCING, sync-status-syncing and SyncStatusSyncing spellings.
func DetectKind(name string) Kind {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)

	switch normalized {
	case "createcommittee":
		return KindCreateCommittee
	case "removecommittee":
		return KindRemoveCommittee
	case "addmember":
		return KindAddMember
	case "removemember":
		return KindRemoveMember
	case "syncstatussyncing":
		return KindSyncStatusSyncing
	case "syncstatussynced":
		return KindSyncStatusSynced
	default:
		return KindUnknown
	}
}

// Parse decodes a raw event into its typed variant. Unknown names yield Unknown
// and a nil error; malformed payloads yield a decode.ErrDecode error.
func Parse(raw Raw) (Event, error) {
	p := raw.Payload
	switch DetectKind(raw.Name) {
	case KindCreateCommittee:
		committee, err := p.Address(FieldCommittee)
		if err != nil {
			return nil, wrap(raw, err)
		}
		voting, err := p.Address(FieldVoting)
		if err != nil {
			return nil, wrap(raw, err)
		}
		name, err := p.Text(FieldName)
		if err != nil {
			return nil, wrap(raw, err)
		}
		return CreateCommittee{
			Committee:   committee,
			Voting:      voting,
			Name:        name,
			Description: p.OptionalString(FieldDescription),
		}, nil

	case KindRemoveCommittee:
		committee, err := p.Address(FieldCommittee)
		if err != nil {
			return nil, wrap(raw, err)
		}
		return RemoveCommittee{Committee: committee}, nil

	case KindAddMember:
		committee, err := p.Address(FieldCommittee)
		if err != nil {
			return nil, wrap(raw, err)
		}
		member, err := p.Address(FieldMember)
		if err != nil {
			return nil, wrap(raw, err)
		}
		stake, err := p.BigInt(FieldStake)
		if err != nil {
			return nil, wrap(raw, err)
		}
		return AddMember{Committee: committee, Member: member, Stake: stake}, nil

	case KindRemoveMember:
		committee, err := p.Address(FieldCommittee)
		if err != nil {
			return nil, wrap(raw, err)
		}
		member, err := p.Address(FieldMember)
		if err != nil {
			return nil, wrap(raw, err)
		}
		return RemoveMember{Committee: committee, Member: member}, nil

	case KindSyncStatusSyncing:
		return SyncStatusSyncing{}, nil

	case KindSyncStatusSynced:
		return SyncStatusSynced{}, nil

	default:
		return Unknown{Name: raw.Name}, nil
	}
}

func wrap(raw Raw, err error) error {
	return fmt.Errorf("parse %s (seq %d): %w", raw.Name, raw.Seq, err)
}

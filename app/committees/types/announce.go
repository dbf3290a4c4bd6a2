package types

import (
	"github.com/go-jose/go-jose/v4/json"

	"github.com/p2pmodels/committees/pkg/state"
)

// Snapshot message types pushed to websocket clients and Redis subscribers.
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// ServerMessage is a message sent to websocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotAnnouncement renders a snapshot as the JSON document published on the snapshot channel.
func SnapshotAnnouncement(snap *state.Snapshot) (string, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

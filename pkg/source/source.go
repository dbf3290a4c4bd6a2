// Package source adapts event transports to the reducer's ordered input channel.
package source

import (
	"context"

	"github.com/p2pmodels/committees/pkg/events"
)

// Source delivers a totally ordered, at-least-once stream of raw events.
// The event channel is closed when the source is exhausted or ctx is done;
// a terminal error, if any, is sent on the error channel before it closes.
type Source interface {
	Events(ctx context.Context) (<-chan events.Raw, <-chan error)
}

// Slice replays a fixed list of events. It is used for tests and offline replays.
type Slice []events.Raw

func (s Slice) Events(ctx context.Context) (<-chan events.Raw, <-chan error) {
	out := make(chan events.Raw)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		for _, raw := range s {
			select {
			case out <- raw:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return out, errs
}

package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/p2pmodels/committees/pkg/decode"
	"github.com/p2pmodels/committees/pkg/events"
	"github.com/p2pmodels/committees/pkg/reducer"
)

// maxEventBody bounds POST /admin/events bodies.
const maxEventBody = 64 << 10

// HandlePending lists events that are sequenced but not committed, typically creations
// waiting on enrichment.
func (c *Controller) HandlePending(w http.ResponseWriter, _ *http.Request) {
	pending := c.App.Reducer.Pending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"committed": c.App.Reducer.Committed(),
		"pending":   pending,
	})
}

type submitEventRequest struct {
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload"`
}

// HandleSubmitEvent appends an event to the source, e.g. to retry a creation whose
// enrichment failed. Events still flow through the reducer in order.
func (c *Controller) HandleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if events.DetectKind(req.Name) == events.KindUnknown {
		writeError(w, http.StatusBadRequest, "unknown event name")
		return
	}

	// Reject what the reducer would skip anyway, so operators get the decode error back.
	payload := normalizePayload(req.Payload)
	if _, err := events.Parse(events.Raw{Name: req.Name, Payload: payload}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref, err := c.App.SubmitEvent(r.Context(), req.Name, payload)
	if err != nil {
		if errors.Is(err, reducer.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, "reducer stopped")
			return
		}
		c.App.Logger.Error("Failed to submit event", zap.String("event", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit event")
		return
	}

	c.App.Logger.Info("Event submitted by operator",
		zap.String("event", req.Name),
		zap.String("ref", ref),
		zap.String("user", c.currentUser(r)))
	writeJSON(w, http.StatusAccepted, map[string]string{"ref": ref})
}

// normalizePayload converts go-jose json.Number values into strings the payload decoder accepts.
func normalizePayload(in map[string]interface{}) decode.Payload {
	out := make(decode.Payload, len(in))
	for k, v := range in {
		if n, ok := v.(json.Number); ok {
			out[k] = n.String()
			continue
		}
		out[k] = v
	}
	return out
}

package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := c.App.Reducer.Snapshot()

	body := map[string]interface{}{
		"status":     "ok",
		"seq":        snap.Seq,
		"committed":  c.App.Reducer.Committed(),
		"pending":    len(c.App.Reducer.Pending()),
		"isSyncing":  snap.IsSyncing,
		"committees": len(snap.Committees),
		"registry":   c.App.Registry.Hex(),
	}

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

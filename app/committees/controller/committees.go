package controller

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/p2pmodels/committees/pkg/state"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleSnapshot returns the latest snapshot as a whole.
func (c *Controller) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Reducer.Snapshot())
}

// HandleCommittees lists committees in creation order.
func (c *Controller) HandleCommittees(w http.ResponseWriter, _ *http.Request) {
	snap := c.App.Reducer.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seq":        snap.Seq,
		"isSyncing":  snap.IsSyncing,
		"committees": snap.Committees,
	})
}

func (c *Controller) HandleCommittee(w http.ResponseWriter, r *http.Request) {
	committee, ok := c.lookupCommittee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, committee)
}

// HandleMembers returns the members of one committee together with how stakes combine.
func (c *Controller) HandleMembers(w http.ResponseWriter, r *http.Request) {
	committee, ok := c.lookupCommittee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":    committee.Address,
		"cumulative": committee.Cumulative(),
		"members":    committee.Members,
	})
}

func (c *Controller) lookupCommittee(w http.ResponseWriter, r *http.Request) (state.Committee, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid committee address")
		return state.Committee{}, false
	}
	committee, ok := c.App.Reducer.Snapshot().Committee(common.HexToAddress(raw))
	if !ok {
		writeError(w, http.StatusNotFound, "committee not found")
		return state.Committee{}, false
	}
	return committee, true
}

func (c *Controller) HandleRoles(w http.ResponseWriter, _ *http.Request) {
	if c.App.Roles == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"roles": []interface{}{}})
		return
	}
	body := map[string]interface{}{"roles": c.App.Roles.All()}
	if at, ok := c.App.Roles.LoadedAt(); ok {
		body["loadedAt"] = at
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleRole resolves a role by hash or constant name.
func (c *Controller) HandleRole(w http.ResponseWriter, r *http.Request) {
	if c.App.Roles == nil {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	role, ok := c.App.Roles.Lookup(mux.Vars(r)["key"])
	if !ok {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

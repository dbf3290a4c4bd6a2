package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const permissionsTimeout = 10 * time.Second

type permissionView struct {
	Entity common.Address `json:"entity"`
	App    common.Address `json:"app"`
	Role   common.Hash    `json:"role"`
	// RoleID and Label are empty for roles the registry does not know.
	RoleID string `json:"roleId,omitempty"`
	Label  string `json:"label,omitempty"`
}

// HandlePermissions lists the ACL grants held by a committee's token manager and its
// voting app. It reads the chain and never touches the snapshot.
func (c *Controller) HandlePermissions(w http.ResponseWriter, r *http.Request) {
	committee, ok := c.lookupCommittee(w, r)
	if !ok {
		return
	}
	if c.App.Permissions == nil {
		writeError(w, http.StatusServiceUnavailable, "permission lookups are not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), permissionsTimeout)
	defer cancel()

	individual, err := c.permissions(ctx, committee.Address)
	if err != nil {
		c.permissionsFailed(w, committee.Address, err)
		return
	}
	group, err := c.permissions(ctx, committee.VotingAddress)
	if err != nil {
		c.permissionsFailed(w, committee.VotingAddress, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":    committee.Address,
		"individual": individual,
		"group":      group,
	})
}

func (c *Controller) permissions(ctx context.Context, entity common.Address) ([]permissionView, error) {
	grants, err := c.App.Permissions.Permissions(ctx, entity)
	if err != nil {
		return nil, err
	}
	out := make([]permissionView, 0, len(grants))
	for _, g := range grants {
		view := permissionView{Entity: g.Entity, App: g.App, Role: g.Role}
		if c.App.Roles != nil {
			if role, ok := c.App.Roles.Lookup(g.Role.Hex()); ok {
				view.RoleID = role.ID
				view.Label = role.Label
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (c *Controller) permissionsFailed(w http.ResponseWriter, entity common.Address, err error) {
	c.App.Logger.Warn("Permission lookup failed", zap.String("entity", entity.Hex()), zap.Error(err))
	writeError(w, http.StatusBadGateway, "permission lookup failed")
}

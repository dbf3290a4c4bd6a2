package controller

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/p2pmodels/committees/app/committees/types"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")

	r.HandleFunc("/snapshot", c.HandleSnapshot).Methods("GET")
	r.HandleFunc("/committees", c.HandleCommittees).Methods("GET")
	r.HandleFunc("/committees/{address}", c.HandleCommittee).Methods("GET")
	r.HandleFunc("/committees/{address}/members", c.HandleMembers).Methods("GET")
	r.HandleFunc("/committees/{address}/permissions", c.HandlePermissions).Methods("GET")
	r.HandleFunc("/roles", c.HandleRoles).Methods("GET")
	r.HandleFunc("/roles/{key}", c.HandleRole).Methods("GET")
	r.HandleFunc("/ws", c.HandleWebSocket).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(c.RequireAuth)
	admin.HandleFunc("/pending", c.HandlePending).Methods("GET")
	admin.HandleFunc("/events", c.HandleSubmitEvent).Methods("POST")

	return r, nil
}

// WithCORS adds permissive CORS headers for the UI.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package controller

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/verus-network/vrscx/app/query/types"
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

	r.HandleFunc("/v1/identity/{name}", c.Identity).Methods("GET")
	r.HandleFunc("/v1/address/{address}/balance", c.Balance).Methods("GET")
	r.HandleFunc("/v1/balances", c.Balances).Methods("POST")
	r.HandleFunc("/v1/address/{address}/rollups", c.Rollups).Methods("GET")
	r.HandleFunc("/v1/mempool/{txid}", c.MempoolFirstSeen).Methods("GET")

	r.HandleFunc("/ws", c.HandleWebSocket).Methods("GET")

	r.HandleFunc("/v1/admin/login", c.Login).Methods("POST")
	r.Handle("/v1/admin/reindex/{address}", c.RequireAdmin(http.HandlerFunc(c.Reindex))).Methods("POST")

	return r, nil
}

// WithCORS wraps a handler with permissive CORS headers for the
// dashboard frontend.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

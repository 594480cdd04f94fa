package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/cache"
)

// Identity serves the cache-first identity lookup. A miss resolves
// live and answers from that; history indexing happens in the
// background and is never awaited here.
func (c *Controller) Identity(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	id, err := c.App.Cache.LookupIdentity(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrNotFound):
			writeError(w, http.StatusNotFound, "identity not found")
		default:
			writeError(w, http.StatusServiceUnavailable, "identity temporarily unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// Balance serves a single cache-first balance lookup.
func (c *Controller) Balance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	snap, err := c.App.Cache.FetchBalance(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "balance temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type balancesRequest struct {
	Addresses []string `json:"addresses"`
}

// Balances serves the batched balance read: one store query for the
// fresh set, one gateway batch for the gaps.
func (c *Controller) Balances(w http.ResponseWriter, r *http.Request) {
	var req balancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"addresses\": [...]}")
		return
	}
	if len(req.Addresses) > 100 {
		writeError(w, http.StatusBadRequest, "at most 100 addresses per request")
		return
	}

	out, err := c.App.Cache.GetBalances(r.Context(), req.Addresses)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "balances temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Rollups serves the daily aggregates for an address.
func (c *Controller) Rollups(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	rollups, err := c.App.Indexer.Rollups(r.Context(), address)
	if err != nil {
		c.App.Logger.Warn("rollup read failed", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "rollups temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rollups)
}

// MempoolFirstSeen reports when a transaction was first observed in the
// mempool, if it is still tracked.
func (c *Controller) MempoolFirstSeen(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]

	at, ok := c.App.Mempool.FirstSeen(txid)
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"txid":      txid,
		"firstSeen": at.Format(time.RFC3339Nano),
	})
}

// Reindex triggers a background indexing run for an address (admin).
func (c *Controller) Reindex(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	accepted := c.App.Indexer.Enqueue(address)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"address":  address,
		"accepted": accepted,
	})
}

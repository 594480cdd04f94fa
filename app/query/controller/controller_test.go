package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verus-network/vrscx/app/query/types"
	"github.com/verus-network/vrscx/pkg/cache"
	"github.com/verus-network/vrscx/pkg/db/models"
	"github.com/verus-network/vrscx/pkg/indexer"
	"github.com/verus-network/vrscx/pkg/mempool"
	"github.com/verus-network/vrscx/pkg/rpc"
	"github.com/verus-network/vrscx/pkg/utils"
)

// testStore is a minimal db.Store for handler tests.
type testStore struct {
	mu         sync.Mutex
	identities map[string]*models.Identity
	balances   map[string]*models.BalanceSnapshot
	rollups    map[string][]*models.DailyRollup
}

func newTestStore() *testStore {
	return &testStore{
		identities: map[string]*models.Identity{},
		balances:   map[string]*models.BalanceSnapshot{},
		rollups:    map[string][]*models.DailyRollup{},
	}
}

func (s *testStore) UpsertIdentity(_ context.Context, id *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id.Address] = id
	return nil
}

func (s *testStore) GetIdentity(_ context.Context, key string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.identities[key]; ok {
		return id, nil
	}
	for _, id := range s.identities {
		if id.BaseName == key {
			return id, nil
		}
	}
	return nil, nil
}

func (s *testStore) InsertActivity(context.Context, []*models.ActivityRecord) error { return nil }
func (s *testStore) ActivityCount(context.Context, string) (uint64, error)          { return 0, nil }
func (s *testStore) IndexedAddresses(context.Context) ([]string, error)             { return nil, nil }
func (s *testStore) RebuildRollups(context.Context, string) error                   { return nil }

func (s *testStore) Rollups(_ context.Context, address string) ([]*models.DailyRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollups[address], nil
}

func (s *testStore) UpsertBalance(_ context.Context, snap *models.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[snap.Address] = snap
	return nil
}

func (s *testStore) Balance(_ context.Context, address string, maxAge time.Duration) (*models.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.balances[address]
	if !ok || time.Since(snap.CachedAt) > maxAge {
		return nil, nil
	}
	return snap, nil
}

func (s *testStore) Balances(_ context.Context, addresses []string, maxAge time.Duration) (map[string]*models.BalanceSnapshot, error) {
	out := map[string]*models.BalanceSnapshot{}
	for _, a := range addresses {
		if snap, _ := s.Balance(context.Background(), a, maxAge); snap != nil {
			out[a] = snap
		}
	}
	return out, nil
}

func (s *testStore) Close() error { return nil }

// testChain answers the few daemon calls the wired services make.
type testChain struct {
	mu         sync.Mutex
	identities map[string]*rpc.IdentityResult
	mempool    []string
}

func (c *testChain) GetIdentity(_ context.Context, name string) (*rpc.IdentityResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.identities[name]; ok {
		return res, nil
	}
	return nil, &rpc.Error{Kind: rpc.KindPermanent, Method: "getidentity", Message: "identity not found"}
}

func (c *testChain) GetAddressTxIDs(context.Context, []string) ([]string, error) { return nil, nil }

func (c *testChain) GetAddressDeltas(context.Context, []string) ([]rpc.AddressDelta, error) {
	return nil, nil
}

func (c *testChain) GetRawTransaction(context.Context, string) (*rpc.RawTransaction, error) {
	return nil, nil
}

func (c *testChain) GetBlock(context.Context, string) (*rpc.Block, error) { return nil, nil }

func (c *testChain) GetAddressBalance(context.Context, []string) (*rpc.AddressBalance, error) {
	return nil, &rpc.Error{Kind: rpc.KindTransient, Method: "getaddressbalance", Message: "daemon down"}
}

func (c *testChain) GetRawMempool(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mempool, nil
}

func (c *testChain) Batch(_ context.Context, calls []rpc.BatchCall) []rpc.BatchResult {
	results := make([]rpc.BatchResult, len(calls))
	for i := range calls {
		results[i] = rpc.BatchResult{
			Result: json.RawMessage(`null`),
			Err:    &rpc.Error{Kind: rpc.KindTransient, Method: calls[i].Method, Message: "daemon down"},
		}
	}
	return results
}

func newTestController(t *testing.T) (*Controller, *testStore, *testChain) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := newTestStore()
	chain := &testChain{identities: map[string]*rpc.IdentityResult{}}

	idx := indexer.New(logger, chain, store, nil, indexer.Opts{Workers: 1, QueueSize: 4})
	t.Cleanup(idx.Close)

	hash, err := utils.HashOrRead("hunter2")
	require.NoError(t, err)

	app := &types.App{
		Logger:    logger,
		Store:     store,
		Cache:     cache.New(logger, store, chain, idx, idx),
		Indexer:   idx,
		Mempool:   mempool.New(logger, chain, nil, 100),
		JWTSecret: []byte("test-secret"),
		AdminHash: hash,
	}
	return NewController(app), store, chain
}

func serve(t *testing.T, c *Controller, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router, err := c.NewRouter()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	c, _, _ := newTestController(t)
	rec := serve(t, c, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestIdentity_StoredIdentityServed(t *testing.T) {
	c, store, _ := newTestController(t)
	require.NoError(t, store.UpsertIdentity(context.Background(), &models.Identity{
		Address:  "iAliceAddr",
		BaseName: "alice@",
	}))

	rec := serve(t, c, httptest.NewRequest("GET", "/v1/identity/alice@", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var id models.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	assert.Equal(t, "iAliceAddr", id.Address)
}

func TestIdentity_BareNameServedFromStore(t *testing.T) {
	c, store, chain := newTestController(t)
	require.NoError(t, store.UpsertIdentity(context.Background(), &models.Identity{
		Address:  "iAliceAddr",
		BaseName: "alice@",
	}))
	chain.mu.Lock()
	chain.identities = nil // any resolution attempt would fail
	chain.mu.Unlock()

	rec := serve(t, c, httptest.NewRequest("GET", "/v1/identity/alice", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var id models.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	assert.Equal(t, "iAliceAddr", id.Address)
}

func TestIdentity_UnknownIs404(t *testing.T) {
	c, _, _ := newTestController(t)
	rec := serve(t, c, httptest.NewRequest("GET", "/v1/identity/nobody@", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBalance_UnavailableIs503WithoutDetail(t *testing.T) {
	c, _, _ := newTestController(t)
	rec := serve(t, c, httptest.NewRequest("GET", "/v1/address/RAddr/balance", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "daemon", "transport detail must not leak to clients")
}

func TestBalance_FreshSnapshotServed(t *testing.T) {
	c, store, _ := newTestController(t)
	require.NoError(t, store.UpsertBalance(context.Background(), &models.BalanceSnapshot{
		Address: "RAddr", Balance: 42, CachedAt: time.Now(),
	}))

	rec := serve(t, c, httptest.NewRequest("GET", "/v1/address/RAddr/balance", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap models.BalanceSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(42), snap.Balance)
}

func TestBalances_RequestValidation(t *testing.T) {
	c, _, _ := newTestController(t)

	rec := serve(t, c, httptest.NewRequest("POST", "/v1/balances", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	many := make([]string, 101)
	for i := range many {
		many[i] = "RAddr"
	}
	body, _ := json.Marshal(map[string]any{"addresses": many})
	rec = serve(t, c, httptest.NewRequest("POST", "/v1/balances", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMempoolFirstSeen(t *testing.T) {
	c, _, chain := newTestController(t)
	chain.mu.Lock()
	chain.mempool = []string{"tx1"}
	chain.mu.Unlock()
	c.App.Mempool.Poll(context.Background())

	rec := serve(t, c, httptest.NewRequest("GET", "/v1/mempool/tx1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tx1", body["txid"])
	assert.NotEmpty(t, body["firstSeen"])

	rec = serve(t, c, httptest.NewRequest("GET", "/v1/mempool/tx2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin_IssuesAdminToken(t *testing.T) {
	c, _, _ := newTestController(t)

	rec := serve(t, c, httptest.NewRequest("POST", "/v1/admin/login", bytes.NewBufferString(`{"password":"hunter2"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["token"])

	tok, err := jwt.Parse(body["token"], func(*jwt.Token) (any, error) { return []byte("test-secret"), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, "admin", claims["role"])
}

func TestLogin_WrongPassword(t *testing.T) {
	c, _, _ := newTestController(t)
	rec := serve(t, c, httptest.NewRequest("POST", "/v1/admin/login", bytes.NewBufferString(`{"password":"wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReindex_RequiresAdminToken(t *testing.T) {
	c, _, _ := newTestController(t)

	rec := serve(t, c, httptest.NewRequest("POST", "/v1/admin/reindex/RAddr", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")

	req := httptest.NewRequest("POST", "/v1/admin/reindex/RAddr", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = serve(t, c, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "garbage token")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	req = httptest.NewRequest("POST", "/v1/admin/reindex/RAddr", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = serve(t, c, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong signing key")
}

func TestReindex_AcceptedWithValidToken(t *testing.T) {
	c, _, _ := newTestController(t)

	login := serve(t, c, httptest.NewRequest("POST", "/v1/admin/login", bytes.NewBufferString(`{"password":"hunter2"}`)))
	require.Equal(t, http.StatusOK, login.Code)
	var auth map[string]string
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &auth))

	req := httptest.NewRequest("POST", "/v1/admin/reindex/RAddr", nil)
	req.Header.Set("Authorization", "Bearer "+auth["token"])
	rec := serve(t, c, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RAddr", body["address"])
	assert.Equal(t, true, body["accepted"])
}

func TestWebSocket_DisabledWithoutRedis(t *testing.T) {
	c, _, _ := newTestController(t)
	rec := serve(t, c, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWithCORS_Preflight(t *testing.T) {
	c, _, _ := newTestController(t)
	router, err := c.NewRouter()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	WithCORS(router).ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/v1/identity/alice@", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package types

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/cache"
	"github.com/verus-network/vrscx/pkg/db"
	"github.com/verus-network/vrscx/pkg/indexer"
	"github.com/verus-network/vrscx/pkg/mempool"
	"github.com/verus-network/vrscx/pkg/redis"
)

// App bundles the services the read API exposes. Everything is
// explicitly constructed at process start and passed by reference; no
// package-level singletons.
type App struct {
	Logger  *zap.Logger
	Store   db.Store
	Cache   *cache.Cache
	Indexer *indexer.Service
	Mempool *mempool.Tracker

	// RedisClient feeds the websocket stream; nil disables it.
	RedisClient *redis.Client

	// JWTSecret signs admin session tokens; AdminHash is the bcrypt
	// hash of the admin password.
	JWTSecret []byte
	AdminHash []byte

	Server *http.Server
}

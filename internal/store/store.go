package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cornchan/cornchan/pkg/config"
)

// Logical hash tables and counters kept in the backing store
const (
	TableBoards    = "boards"
	TableThreads   = "threads"
	TableThreadIDs = "thread_ids"
	TableBannedIPs = "banned_ips"

	CounterPosts = "post_count"
)

var (
	// ErrNotFound is returned by Get when the key is absent
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps every failure of the backing store itself
	ErrUnavailable = errors.New("store unavailable")
)

// Entry is a key/value pair returned by Scan
type Entry struct {
	Key   string
	Value []byte
}

// Store is a set of named hash tables plus atomic counters. Keys are arbitrary
// byte strings.
type Store interface {
	// Put inserts or overwrites key in table
	Put(ctx context.Context, table, key string, value []byte) error
	// Get returns ErrNotFound when key is absent
	Get(ctx context.Context, table, key string) ([]byte, error)
	Delete(ctx context.Context, table, key string) error
	// Scan returns every entry of table whose key matches the glob pattern.
	// It walks the whole table.
	Scan(ctx context.Context, table, match string) ([]Entry, error)
	// Increment atomically adds delta to counter and returns the new value
	Increment(ctx context.Context, counter string, delta int64) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// New opens the backend selected by cfg.Backend
func New(cfg *config.StoreConfig, logLevel string) (Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return NewRedis(cfg)
	case config.BackendSQL:
		return NewSQL(cfg, logLevel)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

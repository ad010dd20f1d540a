package storage

import (
	"context"
	"errors"
)

// ErrWrongType is returned when a key holds a different type than the
// command expects.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// Store is the keyspace of the development server, strings and sets split
// into numbered databases.
type Store interface {
	Get(ctx context.Context, db int, key string) ([]byte, bool, error)
	Set(ctx context.Context, db int, key string, value []byte) error
	Del(ctx context.Context, db int, keys ...string) (int, error)

	SAdd(ctx context.Context, db int, key string, members ...string) (int, error)
	SRem(ctx context.Context, db int, key string, members ...string) (int, error)
	SCard(ctx context.Context, db int, key string) (int, error)
	SIsMember(ctx context.Context, db int, key, member string) (bool, error)
	// SMembers returns the members sorted.
	SMembers(ctx context.Context, db int, key string) ([]string, error)
	// SScan returns up to count members matching match from cursor on, and
	// the cursor of the next page, 0 once done.
	SScan(ctx context.Context, db int, key string, cursor, count int, match func(string) bool) (int, []string, error)

	// Restore replaces the keyspace with a Backup document.
	Restore(doc []byte) error
	// Backup dumps the keyspace as a JSON document.
	Backup() ([]byte, error)

	Close() error
}

// Package kvstore holds the durable key-value backends the session is
// persisted in.
package kvstore

import (
	"context"

	"github.com/yanqian/clinic-console/internal/domain/session"
)

// Store is a session.KeyValueStore that can report its health.
type Store interface {
	session.KeyValueStore
	Ping(ctx context.Context) error
}

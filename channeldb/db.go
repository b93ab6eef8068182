// Package channeldb persists everything the commitment-and-HTLC engine
// needs to survive a restart: open-channel parameters and basepoints, the
// active and pending commitment chains, the HTLC origin map, and the
// per-commitment secret chain. It is the generalized descendant of the
// teacher's channeldb package, narrowed to channel state (the gossip graph
// and invoice/payment bookkeeping the teacher also stored there are out of
// scope, see DESIGN.md) and rebased onto lnd's kvdb backend abstraction so
// the store can run on bbolt, etcd, or postgres without touching any
// channel logic.
package channeldb

import (
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"
)

const dbFileName = "channel.db"

// DB is the primary datastore for this engine's channel state.
type DB struct {
	kvdb.Backend
	dbPath string
}

// Open opens (creating if necessary) the bbolt-backed channel database at
// dbPath. Passing a different kvdb backend constructor here is the whole
// of what's required to move this store onto etcd or postgres; nothing
// above this layer references bbolt directly.
func Open(dbPath string) (*DB, error) {
	backend, err := kvdb.Create(
		kvdb.BoltBackendName, dbPath+"/"+dbFileName, true,
		kvdb.DefaultBoltAutoCompactMinAge,
	)
	if err != nil {
		return nil, fmt.Errorf("channeldb: unable to open backend: %w", err)
	}

	cdb := &DB{Backend: backend, dbPath: dbPath}
	if err := cdb.initBuckets(); err != nil {
		return nil, err
	}

	return cdb, nil
}

var (
	openChannelBucket   = []byte("open-channels")
	closedChannelBucket = []byte("closed-channels")
)

// initBuckets creates the top-level buckets this package's records live
// under, if they don't already exist. The per-commitment secret chain
// has no bucket of its own: it is small enough (at most maxHeight+1
// entries, see shachain.Store) to serialize inline as part of each
// channel's OpenChannel record rather than warrant its own keyspace.
func (d *DB) initBuckets() error {
	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		for _, bucket := range [][]byte{
			openChannelBucket, closedChannelBucket,
		} {
			if _, err := tx.CreateTopLevelBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	}, func() {})
}

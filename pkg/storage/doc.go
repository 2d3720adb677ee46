/*
Package storage persists the scheduler's durable state.

Three kinds of records survive a scheduler restart:

  - the framework id issued by the resource manager at first registration
  - one TaskRecord per node identity (node-0, node-1, ...), including the
    persistent volume the node owns
  - one RepairRecord per node with the last repair start and completion

Offers are never stored.

# Backends

BoltStore keeps everything in a single BoltDB file (<dataDir>/ringmaster.db)
with one bucket per record kind. Values are JSON and every write is an upsert.

EtcdStore keeps the same records in an external etcd cluster under
/ringmaster/<cluster>/ and is the choice when several scheduler instances share
state without running Raft themselves.

The Raft-replicated backend lives in package state; it applies replicated
commands onto a local BoltStore and uses Dump and BoltStore.Replace for
snapshots.

# Errors

Lookups of missing records return an error wrapping ErrNotFound:

	rec, err := store.GetTask("node-2")
	if errors.Is(err, storage.ErrNotFound) {
		// first launch for this node
	}
*/
package storage

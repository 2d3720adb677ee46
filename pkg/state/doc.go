/*
Package state replicates scheduler state across a group of schedulers with
hashicorp/raft.

ReplicatedStore implements storage.Store. Writes become raft commands that an
FSM applies to each member's local BoltStore once committed; reads are served
from the local copy. Raft's own log and stable stores use raft-boltdb, and
snapshots are JSON dumps of the local store. Only the leader accepts writes,
so only the leader scheduler should register with the resource manager.
*/
package state

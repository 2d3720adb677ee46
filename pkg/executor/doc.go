// Package executor hosts one node on an agent. It launches the node's daemon
// task under a supervisor, relays mode transitions from the lifecycle monitor
// as task status updates and runs administrative tasks (repair, cleanup,
// compaction, snapshot, decommission) against the node's probe.
package executor

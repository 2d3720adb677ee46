/*
Package probe is the administrative channel to a running database node.

The Probe interface covers the node's management surface: reading its operation
mode and identity, and triggering maintenance (cleanup, compaction, snapshots,
repair, sstable upgrades) and membership changes (drain, decommission,
assassinate). JolokiaProbe implements it over the Jolokia JMX-HTTP agent that
ships alongside the node; each probe is bound to a single node's agent URL so
several nodes can be probed from one process.

# Failure taxonomy

Every failure is an *Error carrying one of four kinds:

  - ErrTransport: the node could not be reached or did not answer. This is the
    only transient kind and the only one the mode monitor retries.
  - ErrInvalidArgument: the node rejected the request (unknown keyspace, table
    or operation).
  - ErrInterrupted: the caller's context was cancelled.
  - ErrRemote: the request was valid but the operation failed on the node.

The kind is decided where the call fails: at the HTTP round trip, from the
agent's status code, or from the remote exception type reported by the agent.
Callers test it with errors.Is, which keeps working through any wrapping:

	if err := p.ForceKeyspaceCleanup(ctx, "ks1"); errors.Is(err, probe.ErrInvalidArgument) {
		// report to the operator, do not retry
	}
*/
package probe

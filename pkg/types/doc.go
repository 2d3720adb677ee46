/*
Package types defines the data model shared by the ringmaster scheduler and
executor.

# Offers and requirements

An Offer is a bundle of resources (cpus, mem, disk, port ranges and reserved
persistent volumes) on one agent. Offers are valid for a single scheduling pass
and are never persisted: every offer received in a batch is either accepted or
declined before the pass ends.

A TaskRequirement is the resource shape a plan block needs. It is fixed when the
block is created.

# Tasks and node status

TaskInfo is what gets launched on an agent. Its Config payload is either a
DaemonConfig (the long-running database process) or an AdminConfig (a one-shot
administrative command such as repair or cleanup).

TaskStatus carries task state changes from the executor back to the scheduler.
When the status originates from the node's mode monitor, Data holds an encoded
NodeStatus:

	data, err := types.EncodeNodeStatus(types.NodeStatus{
		NodeID: "node-0",
		Mode:   types.ModeNormal,
		State:  types.TaskStateRunning,
	})

The encoding is a protobuf Struct so it can be read by any consumer without
generated code. ModeFromStatus is the shortcut used by the plan and the task
registry.

# Persisted records

TaskRecord and RepairRecord are the only structures written to storage. They
are keyed by node name, so a node keeps its identity (and its persistent volume)
across task replacements.
*/
package types

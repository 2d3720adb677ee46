/*
Package reconciler keeps the scheduler's view of task state in step with the
resource manager.

Status updates can be lost while the scheduler is disconnected or failing
over. On a fixed interval the reconciler asks the resource manager to resend
the latest status of every task the registry still considers alive; the
replayed updates flow through the normal status path and advance or reset
plan blocks as usual. The reconciler itself never changes plan state.
*/
package reconciler

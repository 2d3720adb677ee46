/*
Package scheduler implements the scheduler's callback surface towards the
cluster resource manager.

Each offer batch runs through a fixed pipeline:

 1. the batch is logged
 2. the plan stage claims offers for the schedulable plan blocks
 3. the repair stage sees what is left
 4. the backup stage sees what is left after that
 5. everything still unclaimed is declined

A stage only ever sees the remainder of the previous one, so no offer is
claimed twice. Status updates go to the task registry and the plan manager.
Registration persists the framework id; if that fails the driver is aborted.
Rescinded offers, lost agents, lost executors and driver errors are logged
and counted only.
*/
package scheduler

/*
Package lifecycle tracks the operation mode of a running database node.

A Monitor polls the node's probe on a fixed period (one second by default).
Modes move Starting → Joining → Normal ⇄ Leaving → Decommissioned as the node
reports them; Unknown is only entered after sustained probe failure.

Rules applied on every tick:

  - success with a new mode: store it, emit one NodeStatus in state running
  - success with the same mode: nothing is emitted
  - any success resets the retry counter to zero
  - transient failure: the counter is incremented; when it reaches the ceiling
    (ten by default) the mode becomes Unknown, one NodeStatus in state killing
    is emitted and the counter resets, giving the next failures a fresh budget
  - any other failure is returned from Tick and logged by Run; it changes
    neither the mode nor the counter

Statuses go to a channel with a single consumer, which forwards them upstream
in order. Stop freezes the monitor: once it returns no further status is sent
and the mode is never updated again, so a late poll cannot bring a stopping
node back to a non-terminal mode.
*/
package lifecycle

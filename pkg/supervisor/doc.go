// Package supervisor owns the start/stop lifecycle of a node process.
//
// A Supervisor composes a Process (local command or container) with a Poller
// (the mode monitor) and a set of Hooks supplied by the node-specific code:
// PreStop drains the node before it is terminated, OnExit is called once when
// the process exits. Process exit is observed independently of the poller.
package supervisor

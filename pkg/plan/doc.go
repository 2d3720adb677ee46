/*
Package plan models deployment work as an ordered plan of phases, each an
ordered group of blocks, and tracks each block's progress.

A Block targets one node slot and moves through a small state machine built
on looplab/fsm:

	Pending --start--> InProgress --complete--> Complete
	InProgress --reset--> Pending

Complete has no outgoing transition. A block is started when offers are
accepted for it, completed when the task bound to it reports running in
NORMAL mode, and reset when that task ends.

The Manager owns the active plan. Phases are strictly ordered: blocks of a
later phase are never schedulable while an earlier phase has incomplete
blocks. Within a phase a Strategy limits how many blocks run at once; the
default runs them one at a time. An operator may interrupt the plan, which
stops new blocks from being offered resources until it proceeds.
*/
package plan

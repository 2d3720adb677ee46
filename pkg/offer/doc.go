/*
Package offer matches plan blocks against resource offers.

Evaluate walks offers in the order they arrived. A node that already owns a
persistent volume is placed back on the volume's agent so it keeps its data;
otherwise the first offer large enough for the block wins. The PlanScheduler
turns a match into reserve, create and launch operations, records them, and
accepts the offers. Offers that do not fit are not declined here; the caller
passes them on to the next stage.
*/
package offer

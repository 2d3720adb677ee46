/*
Package log provides structured logging for ringmaster using zerolog.

A single global Logger is configured once at startup by Init and then shared by
every package. Long-lived components derive a child logger carrying their
component name and log with structured fields rather than formatted strings:

	logger := log.WithComponent("scheduler")
	logger.Info().
		Str("offer_id", offer.ID).
		Str("block", block.Name).
		Msg("Accepted offer for block")

# Fields

The field names used across the code base are:

  - component: the emitting subsystem (scheduler, monitor, executor, ...)
  - node_id: the database node identity (node-0, node-1, ...)
  - task_id: the resource manager task id
  - offer_id: the offer being evaluated
  - block: the plan block name
  - mode: the node's operation mode

WithNodeID, WithTaskID, WithOfferID and WithBlock derive a child of a component
logger with the corresponding field already set:

	logger := log.WithBlock(log.WithComponent("offer"), block.Name())

# Output

Console output (the default) is meant for operators running the binary in a
terminal. JSON output is selected with Config.JSONOutput or the --log-json flag
and is what should be shipped to a log aggregator.

# Levels

debug, info, warn and error. ParseLevel accepts any case and falls back to info
for unrecognised values.
*/
package log

// Package tasks keeps the scheduler's task registry: one record per node
// identity carrying its current task, last known mode, and persistent
// volume, plus per-node repair history. Records are written through to a
// storage.Store.
package tasks

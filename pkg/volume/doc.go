// Package volume provisions the persistent volumes that hold a node's data
// when ringmaster runs its own local resource manager. Volumes are plain
// directories keyed by agent and persistence id, so a relaunched node finds
// its data where it left it.
package volume

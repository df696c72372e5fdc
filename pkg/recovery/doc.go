// Package recovery implements the Recovery Reaper (spec §4.1 C10): a
// periodic sweep that marks media files whose owning worker crashed or
// stalled mid-task as Orphaned (incrementing recovery_attempts), deletes
// stale Pending uploads and force-finalizes overdue cancellations. It does
// not move Orphaned files back to Pending; that is the operator-triggered
// store.RecoverOrphaned path.
package recovery

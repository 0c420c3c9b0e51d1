// Package status tracks the live state of the ingestion job and publishes it
// to concurrent readers. A process holds at most one active job at a time; the
// job owns its progress and rate-limit counters, external callers only read
// snapshots and may request a cooperative interruption that the job honors at
// unit (chat) boundaries.
package status

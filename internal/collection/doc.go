// Package collection drives bulk collection jobs from submission to a
// terminal status.
//
// Submit parses and deduplicates identifiers, records the job in the task
// store and enqueues it. The queue handler resolves identifiers chunk by
// chunk through the rate-limited API client, upserts the results and writes
// cumulative progress after every chunk, so a restarted worker resumes from
// the last recorded chunk. Per-item and per-chunk failures are kept on the
// job; only infrastructure failures abort an attempt.
package collection

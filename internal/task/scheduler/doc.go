// Package scheduler triggers periodic jobs from cron or interval specs.
//
// Jobs run on robfig/cron's goroutines with a per-job timeout. A run that is
// still in flight when its next trigger fires is skipped, never queued.
package scheduler

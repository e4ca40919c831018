// Package scheduler triggers named jobs on cron or fixed-interval schedules.
//
// Every schedule carries a RunState: a trigger that fires while the previous
// run of the same schedule is still in flight is skipped, so runs of one job
// never overlap. Jobs run on their own goroutine with a per-run timeout.
package scheduler

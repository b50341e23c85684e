// Package scheduler triggers pipeline runs in daemon mode.
//
// A Runner owns one robfig/cron instance with a single job. Every trigger,
// scheduled or manual, goes through the same SkipIfStillRunning chain, so two
// runs never overlap.
package scheduler

// Package scheduler is the producer side: one goroutine that synthesizes a
// new event every interval and appends it to the shared queue.
//
// Due times are now+random offset in [0, MaxOffset] from a seedable source,
// or come from a cron/interval due spec when one is configured.
package scheduler

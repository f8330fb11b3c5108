// Package worker runs the periodic sweeps: the metrics worker that
// recomputes risk and drives cooldown graduations, and the platform
// sync driver that refreshes cached platform state. Each sweep is
// guarded twice: an in-process cycle flag skips overlapping ticks and
// a shared lock keeps replicas from running the same sweep at once.
package worker

// Package jobs holds the job record model, its status state machine, the
// in-memory registry, and the cooperative cancellation flags.
package jobs

package jobs

import "sync"

// CancelRegistry tracks cooperative per-job cancellation flags. Flags are
// observed at stage checkpoints only; mid-stage engine work is never
// interrupted.
type CancelRegistry struct {
	mu    sync.Mutex
	flags map[string]*cancelFlag
}

type cancelFlag struct {
	requested bool
}

// NewCancelRegistry constructs an empty cancellation registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{flags: make(map[string]*cancelFlag)}
}

// Register creates the flag for a job about to run.
func (c *CancelRegistry) Register(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flags[jobID]; !ok {
		c.flags[jobID] = &cancelFlag{}
	}
}

// RequestCancel marks the job for cancellation. It reports whether the job
// had a live flag to mark.
func (c *CancelRegistry) RequestCancel(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.flags[jobID]
	if !ok {
		return false
	}
	flag.requested = true
	return true
}

// IsCancelled reports whether cancellation was requested for the job.
func (c *CancelRegistry) IsCancelled(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.flags[jobID]
	return ok && flag.requested
}

// Release discards the flag once the job reaches a terminal state.
func (c *CancelRegistry) Release(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flags, jobID)
}

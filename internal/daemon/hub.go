package daemon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"harmonix/internal/jobs"
	"harmonix/internal/logging"
)

const (
	hubWriteWait  = 5 * time.Second
	hubSendBuffer = 16
)

// progressEvent is the wire shape pushed to websocket subscribers.
type progressEvent struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

func eventFor(record *jobs.Record) progressEvent {
	return progressEvent{
		JobID:    record.JobID,
		Status:   string(record.Status),
		Stage:    record.Stage,
		Progress: record.Progress,
		Error:    record.Error,
	}
}

// subscriber is one websocket connection watching one job. Writes go
// through a buffered channel drained by its own goroutine, so a slow
// client never holds the hub lock.
type subscriber struct {
	jobID string
	conn  *websocket.Conn
	send  chan progressEvent
}

// progressHub fans per-job state changes out to websocket subscribers.
type progressHub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newProgressHub(logger *slog.Logger) *progressHub {
	return &progressHub{
		logger: logging.NewComponentLogger(logger, "progress-hub"),
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Publish queues the record's current state for every subscriber of its
// job. A subscriber whose buffer is full is dropped rather than waited on.
func (h *progressHub) Publish(record *jobs.Record) {
	if record == nil {
		return
	}
	event := eventFor(record)

	h.mu.Lock()
	defer h.mu.Unlock()
	var stalled []*subscriber
	for sub := range h.subs[record.JobID] {
		select {
		case sub.send <- event:
		default:
			stalled = append(stalled, sub)
		}
	}
	for _, sub := range stalled {
		h.logger.Warn("dropping stalled progress subscriber",
			logging.String(logging.FieldJobID, sub.jobID),
		)
		h.removeLocked(sub)
	}
}

// Subscribe registers a connection for a job, queues the current snapshot,
// and starts the connection's writer.
func (h *progressHub) Subscribe(jobID string, conn *websocket.Conn, snapshot *jobs.Record) *subscriber {
	sub := &subscriber{jobID: jobID, conn: conn, send: make(chan progressEvent, hubSendBuffer)}
	if snapshot != nil {
		sub.send <- eventFor(snapshot)
	}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	return sub
}

// Unsubscribe detaches the subscriber; its writer exits and closes the
// connection.
func (h *progressHub) Unsubscribe(sub *subscriber) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

// Close drops every subscriber, used during shutdown.
func (h *progressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
}

// removeLocked detaches sub and closes its send channel exactly once; only
// the caller that still finds sub in the map closes it.
func (h *progressHub) removeLocked(sub *subscriber) {
	set, ok := h.subs[sub.jobID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.jobID)
	}
	close(sub.send)
}

// writePump drains the send channel onto the wire. A write failure detaches
// the subscriber so the hub stops queueing for it.
func (h *progressHub) writePump(sub *subscriber) {
	defer sub.conn.Close()
	for event := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := sub.conn.WriteJSON(event); err != nil {
			h.Unsubscribe(sub)
			return
		}
	}
}

package daemon

import (
	"testing"

	"harmonix/internal/jobs"
	"harmonix/internal/logging"
)

func TestPublishDropsStalledSubscriber(t *testing.T) {
	h := newProgressHub(logging.NewNop())
	sub := &subscriber{jobID: "job-1", send: make(chan progressEvent, 1)}
	h.subs["job-1"] = map[*subscriber]struct{}{sub: {}}
	sub.send <- progressEvent{JobID: "job-1", Progress: 10}

	h.Publish(&jobs.Record{JobID: "job-1", Status: jobs.StatusProcessing, Progress: 50})

	h.mu.Lock()
	_, still := h.subs["job-1"]
	h.mu.Unlock()
	if still {
		t.Fatal("a subscriber with a full buffer should be dropped")
	}
	if event := <-sub.send; event.Progress != 10 {
		t.Fatalf("buffered event = %+v", event)
	}
	if _, open := <-sub.send; open {
		t.Fatal("send channel should be closed after the drop")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newProgressHub(logging.NewNop())
	sub := &subscriber{jobID: "job-1", send: make(chan progressEvent, 1)}
	h.subs["job-1"] = map[*subscriber]struct{}{sub: {}}

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	if _, open := <-sub.send; open {
		t.Fatal("send channel should be closed")
	}
}

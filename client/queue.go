package client

import (
	"sync"
	"time"
)

type entry struct {
	cmd        *Command
	enqueuedAt time.Time
	sent       bool
}

// queue holds the commands written to a connection that are waiting for a
// reply, oldest first. The Nth reply read off the wire belongs to the Nth
// entry.
type queue struct {
	mu      sync.Mutex
	entries []entry
	head    int

	metrics *Metrics
}

func newQueue(metrics *Metrics) *queue {
	return &queue{metrics: metrics}
}

func (q *queue) enqueue(cmd *Command) {
	q.mu.Lock()
	q.entries = append(q.entries, entry{cmd: cmd, enqueuedAt: time.Now()})
	q.mu.Unlock()

	q.metrics.queueDepth(1)
}

// markSent flags every entry as written to the transport and returns how many
// were pending.
func (q *queue) markSent() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for i := len(q.entries) - 1; i >= q.head; i-- {
		if q.entries[i].sent {
			break
		}
		q.entries[i].sent = true
		n++
	}
	return n
}

func (q *queue) popOldest() (*Command, bool) {
	return q.popOldestIf(nil)
}

// popOldestIf pops the oldest command when match accepts it. A nil match
// accepts everything.
func (q *queue) popOldestIf(match func(*Command) bool) (*Command, bool) {
	q.mu.Lock()

	if q.head >= len(q.entries) {
		q.mu.Unlock()
		return nil, false
	}

	cmd := q.entries[q.head].cmd
	if match != nil && !match(cmd) {
		q.mu.Unlock()
		return nil, false
	}

	q.entries[q.head] = entry{}
	q.head++

	// Reclaim the consumed prefix once it dominates the slice
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.entries) {
		n := copy(q.entries, q.entries[q.head:])
		for i := n; i < len(q.entries); i++ {
			q.entries[i] = entry{}
		}
		q.entries = q.entries[:n]
		q.head = 0
	}
	q.mu.Unlock()

	q.metrics.queueDepth(-1)
	return cmd, true
}

// drainAll removes and returns every entry in order.
func (q *queue) drainAll() []entry {
	q.mu.Lock()
	drained := append([]entry(nil), q.entries[q.head:]...)
	q.entries = nil
	q.head = 0
	q.mu.Unlock()

	q.metrics.queueDepth(-len(drained))
	return drained
}

// reset drains the queue and fails every command with err. Resetting an
// empty queue does nothing.
func (q *queue) reset(err error) {
	for _, e := range q.drainAll() {
		e.cmd.fail(err)
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries) - q.head
}

// Package deferq holds events deferred by enforced contracts, FIFO per
// recipient, each entry carrying the contract that deferred it and a TTL.
package deferq

import (
	"sync"
	"time"

	"github.com/hivemind/orchestrator/internal/event"
)

// DefaultTTL bounds how long a deferred entry may wait for its gate.
const DefaultTTL = 30 * time.Second

// Entry is one deferred event.
type Entry struct {
	Event      *event.Envelope
	ContractID string
	DeferredAt time.Time
	TTL        time.Duration
}

// Expired reports whether the entry's TTL has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.DeferredAt) > e.TTL
}

// Queue is the per-recipient deferred store. Entries keep their original
// DeferredAt across drains.
type Queue struct {
	mu           sync.Mutex
	perRecipient map[string][]*Entry
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{perRecipient: make(map[string][]*Entry)}
}

// Push appends an entry to the recipient's FIFO.
func (q *Queue) Push(recipientID string, e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.perRecipient[recipientID] = append(q.perRecipient[recipientID], e)
}

// Take removes and returns the recipient's entries in FIFO order.
func (q *Queue) Take(recipientID string) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var entries = q.perRecipient[recipientID]
	delete(q.perRecipient, recipientID)
	return entries
}

// Put restores entries, in order, ahead of anything pushed since Take.
func (q *Queue) Put(recipientID string, entries []*Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.perRecipient[recipientID] = append(entries, q.perRecipient[recipientID]...)
}

// Len returns the recipient's queue depth.
func (q *Queue) Len(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.perRecipient[recipientID])
}

// Recipients lists recipients with at least one deferred entry.
func (q *Queue) Recipients() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids = make([]string, 0, len(q.perRecipient))
	for id, entries := range q.perRecipient {
		if len(entries) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reset drops every entry.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.perRecipient = make(map[string][]*Entry)
}

package chathub

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// QueueEntry is a user waiting for a pairing.
type QueueEntry struct {
	UserID     string
	EnqueuedAt time.Time
}

// MatchQueue is a FIFO of unique users. Insertion order is kept by the linked hash map,
// so re-enqueueing a present user keeps their original position.
type MatchQueue struct {
	mu      sync.Mutex
	entries *linkedhashmap.Map // userID -> QueueEntry
}

func NewMatchQueue() *MatchQueue {
	return &MatchQueue{entries: linkedhashmap.New()}
}

// Enqueue appends userID unless present. It reports whether the user was added.
func (q *MatchQueue) Enqueue(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, found := q.entries.Get(userID); found {
		return false
	}
	q.entries.Put(userID, QueueEntry{UserID: userID, EnqueuedAt: time.Now()})
	return true
}

// DequeuePair removes and returns the two longest-waiting users.
func (q *MatchQueue) DequeuePair() (QueueEntry, QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Size() < 2 {
		return QueueEntry{}, QueueEntry{}, false
	}

	var pair [2]QueueEntry
	it := q.entries.Iterator()
	for i := 0; i < 2 && it.Next(); i++ {
		pair[i] = it.Value().(QueueEntry)
	}
	q.entries.Remove(pair[0].UserID)
	q.entries.Remove(pair[1].UserID)
	return pair[0], pair[1], true
}

// Remove drops userID and reports whether it was queued.
func (q *MatchQueue) Remove(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, found := q.entries.Get(userID); !found {
		return false
	}
	q.entries.Remove(userID)
	return true
}

func (q *MatchQueue) Contains(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, found := q.entries.Get(userID)
	return found
}

// Position returns the 1-based position of userID, or 0 when not queued.
func (q *MatchQueue) Position(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := 0
	it := q.entries.Iterator()
	for it.Next() {
		pos++
		if it.Key().(string) == userID {
			return pos
		}
	}
	return 0
}

func (q *MatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Size()
}

// Entry returns userID's queue entry, if queued.
func (q *MatchQueue) Entry(userID string) (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, found := q.entries.Get(userID)
	if !found {
		return QueueEntry{}, false
	}
	return v.(QueueEntry), true
}

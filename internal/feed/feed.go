// Package feed fan-outs activity records to live subscribers (the SSE
// endpoint behind the back-office dashboard).
package feed

import (
	"context"
	"sync"

	"parkrow.org/internal/auth"
)

// Feed fan-outs appended activity records to all active subscribers.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan auth.ActivityRecord
	next int
}

// New initialises an empty feed.
func New() *Feed {
	return &Feed{subs: make(map[int]chan auth.ActivityRecord)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// records. The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan auth.ActivityRecord {
	ch := make(chan auth.ActivityRecord, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the record to all subscribers.
func (f *Feed) Publish(rec auth.ActivityRecord) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- rec:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

package runner

import (
	"context"
	"sync"

	"github.com/torosent/throttleprobe/internal/httpclient"
)

// outcome of one logical request: a response, nothing (dropped or requeued
// again) or a hard error.
type outcome struct {
	resp *httpclient.Response
	err  error
}

// pendingEntry is a retry in flight. It resolves exactly once.
type pendingEntry struct {
	done chan struct{}
	out  outcome
}

func newPendingEntry() *pendingEntry {
	return &pendingEntry{done: make(chan struct{})}
}

func (e *pendingEntry) resolve(resp *httpclient.Response, err error) {
	e.out = outcome{resp: resp, err: err}
	close(e.done)
}

func (e *pendingEntry) wait(ctx context.Context) (outcome, error) {
	select {
	case <-e.done:
		return e.out, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

// pendingQueue belongs to a single run. The controller appends on 429 and
// the next batch drains it.
type pendingQueue struct {
	mu      sync.Mutex
	entries []*pendingEntry
}

func (q *pendingQueue) push(e *pendingEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// drain returns every queued entry and leaves the queue empty.
func (q *pendingQueue) drain() []*pendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}

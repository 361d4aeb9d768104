// Package syncq holds the set of locally mutated entities that still await
// remote confirmation.
package syncq

import (
	"sort"
	"sync"
	"time"

	"fieldline/internal/domain"
)

// Enqueuer is the narrow view the checklist tracker and media registry get
// of the queue.
type Enqueuer interface {
	Enqueue(kind domain.TargetKind, targetID string) bool
}

type key struct {
	kind domain.TargetKind
	id   string
}

// Queue is safe for concurrent use. Items are kept until Remove confirms
// them; failures only bump the attempt counters.
type Queue struct {
	mu    sync.Mutex
	items map[key]*domain.SyncQueueItem
	seq   map[key]uint64
	gens  map[key]uint64
	next  uint64
	Now   func() time.Time
}

func New() *Queue {
	return &Queue{
		items: make(map[key]*domain.SyncQueueItem),
		seq:   make(map[key]uint64),
		gens:  make(map[key]uint64),
		Now:   time.Now,
	}
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// Enqueue adds a unit unless one is already pending for the same target.
// It reports whether a new item was created. Enqueuing a pending target
// bumps its generation so an in-flight confirmation does not drop it.
func (q *Queue) Enqueue(kind domain.TargetKind, targetID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := key{kind, targetID}
	q.gens[k]++
	if _, ok := q.items[k]; ok {
		return false
	}
	q.items[k] = &domain.SyncQueueItem{
		TargetID:   targetID,
		TargetKind: kind,
		EnqueuedAt: q.now().UTC(),
	}
	q.next++
	q.seq[k] = q.next
	return true
}

// Remove drops a confirmed unit.
func (q *Queue) Remove(kind domain.TargetKind, targetID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(key{kind, targetID})
}

func (q *Queue) remove(k key) {
	delete(q.items, k)
	delete(q.seq, k)
	delete(q.gens, k)
}

// Generation identifies the latest local mutation of a target.
func (q *Queue) Generation(kind domain.TargetKind, targetID string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gens[key{kind, targetID}]
}

// Ack removes the unit only if no mutation happened since gen was read.
func (q *Queue) Ack(kind domain.TargetKind, targetID string, gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := key{kind, targetID}
	if q.gens[k] != gen {
		return false
	}
	q.remove(k)
	return true
}

// RecordAttempt notes a failed attempt and keeps the unit queued. A missing
// unit is re-created so a failure is never lost.
func (q *Queue) RecordAttempt(kind domain.TargetKind, targetID string, attempts int, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := key{kind, targetID}
	it, ok := q.items[k]
	if !ok {
		it = &domain.SyncQueueItem{TargetID: targetID, TargetKind: kind, EnqueuedAt: q.now().UTC()}
		q.items[k] = it
		q.next++
		q.seq[k] = q.next
	}
	now := q.now().UTC()
	it.AttemptCount += attempts
	it.LastAttemptAt = &now
	if cause != nil {
		msg := cause.Error()
		it.LastError = &msg
	}
}

func (q *Queue) Has(kind domain.TargetKind, targetID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[key{kind, targetID}]
	return ok
}

func (q *Queue) Get(kind domain.TargetKind, targetID string) (domain.SyncQueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[key{kind, targetID}]
	if !ok {
		return domain.SyncQueueItem{}, false
	}
	return *it, true
}

// Items returns copies in FIFO creation order, optionally filtered by kind.
func (q *Queue) Items(kinds ...domain.TargetKind) []domain.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]key, 0, len(q.items))
	for k := range q.items {
		if len(kinds) > 0 && !containsKind(kinds, k.kind) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return q.seq[keys[i]] < q.seq[keys[j]] })
	out := make([]domain.SyncQueueItem, 0, len(keys))
	for _, k := range keys {
		out = append(out, *q.items[k])
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Restore replaces the content with persisted items, keeping their order.
func (q *Queue) Restore(items []domain.SyncQueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[key]*domain.SyncQueueItem, len(items))
	q.seq = make(map[key]uint64, len(items))
	q.gens = make(map[key]uint64, len(items))
	q.next = 0
	sorted := append([]domain.SyncQueueItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt) })
	for i := range sorted {
		it := sorted[i]
		k := key{it.TargetKind, it.TargetID}
		q.items[k] = &it
		q.next++
		q.seq[k] = q.next
		q.gens[k] = 1
	}
}

func (q *Queue) Clear() {
	q.Restore(nil)
}

func containsKind(kinds []domain.TargetKind, k domain.TargetKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

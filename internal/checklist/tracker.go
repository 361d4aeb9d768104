// Package checklist tracks per-item completion of an inspection checklist and
// keeps the aggregate counters in step with every mutation.
package checklist

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fieldline/internal/domain"
	"fieldline/internal/syncq"
)

var (
	ErrAlreadyPopulated = errors.New("checklist already populated")
	ErrNotFound         = errors.New("checklist item not found")
	ErrEmptyChecklist   = errors.New("checklist is empty")
)

// TransitionError rejects a status change that would move an item backwards.
type TransitionError struct {
	ItemID string
	From   domain.ItemStatus
	To     domain.ItemStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s for item %s", e.From, e.To, e.ItemID)
}

// Update is a partial change; nil fields are left untouched.
type Update struct {
	Status      *domain.ItemStatus
	Notes       *string
	AIResult    map[string]any
	CompletedAt *time.Time
}

type Tracker struct {
	mu        sync.Mutex
	items     []*domain.ChecklistItem
	index     map[string]*domain.ChecklistItem
	populated bool
	counters  domain.ChecklistCounters
	queue     syncq.Enqueuer
	Now       func() time.Time
}

func NewTracker(queue syncq.Enqueuer) *Tracker {
	return &Tracker{
		index: make(map[string]*domain.ChecklistItem),
		queue: queue,
		Now:   time.Now,
	}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// SetChecklist populates the tracker once per session.
func (t *Tracker) SetChecklist(items []domain.ChecklistItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.populated {
		return ErrAlreadyPopulated
	}
	if len(items) == 0 {
		return ErrEmptyChecklist
	}
	index := make(map[string]*domain.ChecklistItem, len(items))
	list := make([]*domain.ChecklistItem, 0, len(items))
	for _, in := range items {
		it := in
		it.ID = strings.TrimSpace(it.ID)
		if it.ID == "" {
			return errors.New("checklist item id is required")
		}
		if _, dup := index[it.ID]; dup {
			return fmt.Errorf("duplicate checklist item %s", it.ID)
		}
		if it.RequiredEvidenceType == "" {
			it.RequiredEvidenceType = domain.EvidenceNone
		}
		if !it.RequiredEvidenceType.Valid() {
			return fmt.Errorf("checklist item %s: invalid evidence type %q", it.ID, it.RequiredEvidenceType)
		}
		if it.Status == "" {
			it.Status = domain.ItemPending
		}
		if !it.Status.Valid() {
			return fmt.Errorf("checklist item %s: invalid status %q", it.ID, it.Status)
		}
		index[it.ID] = &it
		list = append(list, &it)
	}
	t.items = list
	t.index = index
	t.populated = true
	t.recount()
	return nil
}

// UpdateItem merges a partial update into the item and enqueues it for sync.
func (t *Tracker) UpdateItem(id string, u Update) (domain.ChecklistItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.index[id]
	if !ok {
		return domain.ChecklistItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := *it
	if u.Status != nil {
		if !u.Status.Valid() {
			return *it, fmt.Errorf("invalid status %q", *u.Status)
		}
		if err := ensureTransition(id, it.Status, *u.Status); err != nil {
			return *it, err
		}
		next.Status = *u.Status
		switch next.Status {
		case domain.ItemCompleted:
			if u.CompletedAt != nil {
				ts := u.CompletedAt.UTC()
				next.CompletedAt = &ts
			} else if next.CompletedAt == nil {
				ts := t.now().UTC()
				next.CompletedAt = &ts
			}
		case domain.ItemPending, domain.ItemInProgress, domain.ItemFailed:
			next.CompletedAt = nil
		}
	}
	if u.Notes != nil {
		notes := *u.Notes
		next.Notes = &notes
	}
	if u.AIResult != nil {
		next.AIResult = u.AIResult
	}
	*it = next
	t.recount()
	if t.queue != nil {
		t.queue.Enqueue(domain.TargetChecklistItem, id)
	}
	return next, nil
}

// CompleteItem marks the item completed now, optionally attaching notes.
func (t *Tracker) CompleteItem(id string, notes *string) (domain.ChecklistItem, error) {
	status := domain.ItemCompleted
	now := t.now()
	return t.UpdateItem(id, Update{Status: &status, Notes: notes, CompletedAt: &now})
}

func (t *Tracker) MarkNotApplicable(id string, notes *string) (domain.ChecklistItem, error) {
	status := domain.ItemNotApplicable
	return t.UpdateItem(id, Update{Status: &status, Notes: notes})
}

func ensureTransition(id string, from, to domain.ItemStatus) error {
	if from == to {
		return nil
	}
	if from == domain.ItemFailed && to == domain.ItemPending {
		return nil
	}
	if from.Settled() {
		return TransitionError{ItemID: id, From: from, To: to}
	}
	if rank(to) <= rank(from) {
		return TransitionError{ItemID: id, From: from, To: to}
	}
	return nil
}

func rank(s domain.ItemStatus) int {
	switch s {
	case domain.ItemPending:
		return 0
	case domain.ItemInProgress:
		return 1
	case domain.ItemFailed:
		return 2
	default:
		return 3
	}
}

// recount must be called with mu held.
func (t *Tracker) recount() {
	var c domain.ChecklistCounters
	for _, it := range t.items {
		c.TotalCount++
		if it.Required {
			c.RequiredCount++
		}
		if it.Status == domain.ItemCompleted {
			c.CompletedCount++
		}
		if it.Required && !it.Status.Settled() {
			c.RemainingCount++
		}
	}
	t.counters = c
}

func (t *Tracker) Counters() domain.ChecklistCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

func (t *Tracker) Populated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.populated
}

func (t *Tracker) Item(id string) (domain.ChecklistItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.index[id]
	if !ok {
		return domain.ChecklistItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *it, nil
}

// Items returns copies in checklist order.
func (t *Tracker) Items() []domain.ChecklistItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ChecklistItem, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, *it)
	}
	return out
}

// PhotoEvidenceSatisfied reports whether every required photo item is settled.
func (t *Tracker) PhotoEvidenceSatisfied() (bool, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var missing []string
	for _, it := range t.items {
		if it.Required && it.RequiredEvidenceType == domain.EvidencePhoto && !it.Status.Settled() {
			missing = append(missing, it.ID)
		}
	}
	return len(missing) == 0, missing
}

// Restore loads persisted items without enqueuing anything.
func (t *Tracker) Restore(items []domain.ChecklistItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make([]*domain.ChecklistItem, 0, len(items))
	t.index = make(map[string]*domain.ChecklistItem, len(items))
	for _, in := range items {
		it := in
		t.items = append(t.items, &it)
		t.index[it.ID] = &it
	}
	t.populated = len(items) > 0
	t.recount()
}

func (t *Tracker) Clear() {
	t.Restore(nil)
}

// Package media owns captured photo and video artifacts and their individual
// upload status. Items are never dropped before a session reset.
package media

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/domain"
	"fieldline/internal/syncq"
)

var (
	ErrNotFound    = errors.New("media item not found")
	ErrInvalidKind = errors.New("media kind must be photo or video")
	ErrDuplicateID = errors.New("media item already exists")
	ErrNotFailed   = errors.New("media item has not failed")
)

type Registry struct {
	mu    sync.Mutex
	items map[string]*domain.MediaItem
	queue syncq.Enqueuer
	Now   func() time.Time
	NewID func() string
}

func NewRegistry(queue syncq.Enqueuer) *Registry {
	return &Registry{
		items: make(map[string]*domain.MediaItem),
		queue: queue,
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// AddMedia registers a captured item as pending and enqueues it.
func (r *Registry) AddMedia(item domain.MediaItem) (domain.MediaItem, error) {
	if !item.Kind.Valid() {
		return domain.MediaItem{}, ErrInvalidKind
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == "" {
		item.ID = r.NewID()
	}
	if _, ok := r.items[item.ID]; ok {
		return domain.MediaItem{}, fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = r.now().UTC()
	}
	item.UploadStatus = domain.UploadPending
	item.UploadProgress = 0
	item.RemoteURL = nil
	item.LastError = nil
	stored := item
	r.items[item.ID] = &stored
	if r.queue != nil {
		r.queue.Enqueue(domain.TargetMediaItem, item.ID)
	}
	return stored, nil
}

// MarkUploading records upload progress. Completed items are left untouched.
func (r *Registry) MarkUploading(id string, progress int) error {
	return r.mutate(id, func(it *domain.MediaItem) {
		it.UploadStatus = domain.UploadUploading
		it.UploadProgress = clampProgress(progress)
		it.LastError = nil
	})
}

// MarkCompleted stores the public URL. Duplicate completion callbacks are no-ops.
func (r *Registry) MarkCompleted(id, url string) error {
	if url == "" {
		return errors.New("remote url is required to complete an upload")
	}
	return r.mutate(id, func(it *domain.MediaItem) {
		u := url
		it.UploadStatus = domain.UploadCompleted
		it.UploadProgress = 100
		it.RemoteURL = &u
		it.LastError = nil
	})
}

func (r *Registry) MarkFailed(id string, cause error) error {
	msg := "upload failed"
	if cause != nil {
		msg = cause.Error()
	}
	return r.mutate(id, func(it *domain.MediaItem) {
		it.UploadStatus = domain.UploadFailed
		it.RemoteURL = nil
		it.LastError = &msg
	})
}

// RetryFailed puts a failed item back to pending and re-enqueues it.
func (r *Registry) RetryFailed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if it.UploadStatus != domain.UploadFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, it.UploadStatus)
	}
	it.UploadStatus = domain.UploadPending
	it.UploadProgress = 0
	if r.queue != nil {
		r.queue.Enqueue(domain.TargetMediaItem, id)
	}
	return nil
}

func (r *Registry) mutate(id string, fn func(*domain.MediaItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if it.UploadStatus == domain.UploadCompleted {
		return nil
	}
	fn(it)
	return nil
}

func (r *Registry) Item(id string) (domain.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return domain.MediaItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *it, nil
}

// Items returns every item in creation order.
func (r *Registry) Items() []domain.MediaItem {
	return r.filter(func(*domain.MediaItem) bool { return true })
}

// Pending returns the items a sync run must upload: pending or failed.
func (r *Registry) Pending() []domain.MediaItem {
	return r.filter(func(it *domain.MediaItem) bool {
		return it.UploadStatus == domain.UploadPending || it.UploadStatus == domain.UploadFailed
	})
}

func (r *Registry) HasKind(kind domain.MediaKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.Kind == kind {
			return true
		}
	}
	return false
}

func (r *Registry) Counts() domain.MediaCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c domain.MediaCounts
	for _, it := range r.items {
		switch it.UploadStatus {
		case domain.UploadPending:
			c.Pending++
		case domain.UploadUploading:
			c.Uploading++
		case domain.UploadCompleted:
			c.Completed++
		case domain.UploadFailed:
			c.Failed++
		}
	}
	return c
}

func (r *Registry) filter(keep func(*domain.MediaItem) bool) []domain.MediaItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MediaItem, 0, len(r.items))
	for _, it := range r.items {
		if keep(it) {
			out = append(out, *it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Restore loads persisted items. An item left uploading by an interrupted
// run goes back to pending so the next run picks it up.
func (r *Registry) Restore(items []domain.MediaItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*domain.MediaItem, len(items))
	for _, in := range items {
		it := in
		if it.UploadStatus == domain.UploadUploading {
			it.UploadStatus = domain.UploadPending
			it.UploadProgress = 0
		}
		r.items[it.ID] = &it
	}
}

func (r *Registry) Clear() {
	r.Restore(nil)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

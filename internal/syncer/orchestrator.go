// Package syncer reconciles local inspection state with the remote backend
// in two ordered phases: structured checklist data first, then media
// binaries. At most one run is in flight at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"fieldline/internal/checklist"
	"fieldline/internal/domain"
	"fieldline/internal/media"
	"fieldline/internal/netmon"
	"fieldline/internal/remote"
	"fieldline/internal/retry"
	"fieldline/internal/syncq"
)

var (
	ErrSyncAlreadyInProgress = errors.New("sync already in progress")
	ErrNoInspection          = errors.New("no active inspection id")
)

// ChecklistAPI is the remote checklist upsert.
type ChecklistAPI interface {
	UpsertChecklistItem(ctx context.Context, inspectionID string, item remote.ChecklistUpsert) error
}

// MediaUploader stores a media binary and returns its public URL. Progress
// is a percentage of the current item.
type MediaUploader interface {
	UploadMedia(ctx context.Context, inspectionID string, item domain.MediaItem, progress func(pct int)) (string, error)
}

type Orchestrator struct {
	Queue     *syncq.Queue
	Checklist *checklist.Tracker
	Media     *media.Registry
	Network   *netmon.Monitor
	API       ChecklistAPI
	Uploader  MediaUploader
	Retry     *retry.Manager
	Limiter   *rate.Limiter
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Now       func() time.Time

	// OnProgress receives overall run progress, 0-100.
	OnProgress func(progress int)

	syncing atomic.Bool
	mu      sync.Mutex
	last    *domain.SyncResult
	// progressMu serializes report; uploaders may call back from several goroutines.
	progressMu sync.Mutex
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return otel.Tracer("fieldline/syncer")
}

func (o *Orchestrator) retrier() *retry.Manager {
	if o.Retry != nil {
		return o.Retry
	}
	return retry.New(retry.DefaultPolicy(), o.Logger)
}

// InFlight reports whether a run is executing.
func (o *Orchestrator) InFlight() bool {
	return o.syncing.Load()
}

// LastResult returns the result of the most recent finished run.
func (o *Orchestrator) LastResult() *domain.SyncResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// SetLastResult restores the result of a run recorded before a restart.
func (o *Orchestrator) SetLastResult(r *domain.SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = r
}

// WhenIdle runs fn while holding the in-flight flag so no run can start
// meanwhile. It returns ErrSyncAlreadyInProgress if a run is executing.
func (o *Orchestrator) WhenIdle(fn func() error) error {
	if !o.syncing.CompareAndSwap(false, true) {
		return ErrSyncAlreadyInProgress
	}
	defer o.syncing.Store(false)
	return fn()
}

// SyncToServer runs one reconciliation pass. Per-item failures are reported
// in the result; only precondition violations return an error.
func (o *Orchestrator) SyncToServer(ctx context.Context, inspectionID string) (domain.SyncResult, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return domain.SyncResult{}, ErrSyncAlreadyInProgress
	}
	defer o.syncing.Store(false)
	if inspectionID == "" {
		return domain.SyncResult{}, ErrNoInspection
	}

	ctx, span := o.tracer().Start(ctx, "sync.run", trace.WithAttributes(attribute.String("inspection.id", inspectionID)))
	defer span.End()

	res := domain.SyncResult{StartedAt: o.now().UTC(), Failures: []domain.ItemFailure{}}
	if o.Network != nil && !o.Network.Online() {
		res.Offline = true
		o.finish(&res)
		span.SetAttributes(attribute.Bool("sync.offline", true))
		o.logger().Info("sync skipped, offline", "remaining_queue", res.RemainingQueue, "pending_media", res.PendingMedia)
		return res, nil
	}

	o.syncChecklist(ctx, inspectionID, &res)
	o.syncMedia(ctx, inspectionID, &res)
	o.finish(&res)

	span.SetAttributes(
		attribute.Int("sync.confirmed", res.Confirmed),
		attribute.Int("sync.media_completed", res.MediaCompleted),
		attribute.Int("sync.failures", len(res.Failures)),
	)
	if len(res.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d items failed", len(res.Failures)))
	}
	o.logger().Info("sync finished",
		"inspection_id", inspectionID,
		"confirmed", res.Confirmed,
		"media_completed", res.MediaCompleted,
		"failures", len(res.Failures),
		"remaining_queue", res.RemainingQueue,
		"fully_synced", res.FullySynced,
	)
	return res, nil
}

func (o *Orchestrator) syncChecklist(ctx context.Context, inspectionID string, res *domain.SyncResult) {
	ctx, span := o.tracer().Start(ctx, "sync.checklist")
	defer span.End()
	units := o.Queue.Items(domain.TargetChecklistItem)
	n := len(units)
	for i, unit := range units {
		o.syncChecklistItem(ctx, inspectionID, unit, res)
		o.report(res, (i+1)*50/n)
	}
	o.report(res, 50)
}

func (o *Orchestrator) syncChecklistItem(ctx context.Context, inspectionID string, unit domain.SyncQueueItem, res *domain.SyncResult) {
	ctx, span := o.tracer().Start(ctx, "sync.checklist_item", trace.WithAttributes(attribute.String("checklist_item.id", unit.TargetID)))
	defer span.End()
	gen := o.Queue.Generation(domain.TargetChecklistItem, unit.TargetID)
	item, err := o.Checklist.Item(unit.TargetID)
	if err != nil {
		o.fail(res, unit.TargetKind, unit.TargetID, 0, retry.MarkTerminal(err))
		return
	}
	payload := remote.ChecklistUpsert{
		ChecklistItemID: item.ID,
		Status:          string(item.Status),
		Notes:           item.Notes,
		CompletedAt:     item.CompletedAt,
		AIResult:        item.AIResult,
	}
	attempts, err := o.retrier().Do(ctx, "upsert checklist item", func(ctx context.Context) error {
		return o.API.UpsertChecklistItem(ctx, inspectionID, payload)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(res, unit.TargetKind, unit.TargetID, attempts, err)
		return
	}
	// a mutation that landed during the call stays queued for the next run
	o.Queue.Ack(domain.TargetChecklistItem, unit.TargetID, gen)
	res.Confirmed++
}

func (o *Orchestrator) syncMedia(ctx context.Context, inspectionID string, res *domain.SyncResult) {
	ctx, span := o.tracer().Start(ctx, "sync.media")
	defer span.End()
	items := o.Media.Pending()
	m := len(items)
	for j, it := range items {
		base := 50 + j*50/m
		o.syncMediaItem(ctx, inspectionID, it, res, func(pct int) {
			o.report(res, base+pct*50/(100*m))
		})
		o.report(res, 50+(j+1)*50/m)
	}
	o.report(res, 100)
}

func (o *Orchestrator) syncMediaItem(ctx context.Context, inspectionID string, it domain.MediaItem, res *domain.SyncResult, progress func(int)) {
	ctx, span := o.tracer().Start(ctx, "sync.media_item", trace.WithAttributes(
		attribute.String("media_item.id", it.ID),
		attribute.String("media_item.kind", string(it.Kind)),
	))
	defer span.End()
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			o.fail(res, domain.TargetMediaItem, it.ID, 0, err)
			return
		}
	}
	if err := o.Media.MarkUploading(it.ID, 0); err != nil {
		o.fail(res, domain.TargetMediaItem, it.ID, 0, retry.MarkTerminal(err))
		return
	}
	var (
		url  string
		pmu  sync.Mutex
		best int
	)
	onProgress := func(pct int) {
		pmu.Lock()
		defer pmu.Unlock()
		if pct <= best {
			return
		}
		best = pct
		_ = o.Media.MarkUploading(it.ID, pct)
		progress(pct)
	}
	attempts, err := o.retrier().Do(ctx, "upload media", func(ctx context.Context) error {
		u, err := o.Uploader.UploadMedia(ctx, inspectionID, it, onProgress)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = o.Media.MarkFailed(it.ID, err)
		o.fail(res, domain.TargetMediaItem, it.ID, attempts, err)
		return
	}
	if err := o.Media.MarkCompleted(it.ID, url); err != nil {
		o.fail(res, domain.TargetMediaItem, it.ID, attempts, retry.MarkTerminal(err))
		return
	}
	o.Queue.Remove(domain.TargetMediaItem, it.ID)
	res.MediaCompleted++
}

func (o *Orchestrator) fail(res *domain.SyncResult, kind domain.TargetKind, id string, attempts int, err error) {
	o.Queue.RecordAttempt(kind, id, attempts, err)
	terminal := retry.Classify(err) == retry.Terminal
	exhausted := false
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		// an exhausted budget ends the item for this run; the next run retries it
		exhausted = rerr.Exhausted
		terminal = rerr.Class == retry.Terminal || rerr.Exhausted
	}
	res.Failures = append(res.Failures, domain.ItemFailure{
		TargetID:   id,
		TargetKind: kind,
		Error:      err.Error(),
		Terminal:   terminal,
		Exhausted:  exhausted,
		Attempts:   attempts,
	})
	o.logger().Warn("sync item failed", "kind", kind, "id", id, "attempts", attempts, "terminal", terminal, "exhausted", exhausted, "err", err)
}

func (o *Orchestrator) report(res *domain.SyncResult, progress int) {
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	if progress < res.Progress {
		return
	}
	if progress > 100 {
		progress = 100
	}
	res.Progress = progress
	if o.OnProgress != nil {
		o.OnProgress(progress)
	}
}

func (o *Orchestrator) finish(res *domain.SyncResult) {
	res.RemainingQueue = o.Queue.Len()
	counts := o.Media.Counts()
	res.PendingMedia = counts.Pending + counts.Uploading + counts.Failed
	res.FullySynced = !res.Offline && res.RemainingQueue == 0 && res.PendingMedia == 0
	res.FinishedAt = o.now().UTC()
	r := *res
	r.Failures = append([]domain.ItemFailure(nil), res.Failures...)
	o.mu.Lock()
	o.last = &r
	o.mu.Unlock()
}

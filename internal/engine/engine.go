// Package engine binds the workflow components to one persisted inspection
// session. Every mutation rewrites the session snapshot and appends an event
// in a single transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/blob"
	"fieldline/internal/checklist"
	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/media"
	"fieldline/internal/netmon"
	"fieldline/internal/repo"
	"fieldline/internal/syncer"
	"fieldline/internal/syncq"
	"fieldline/internal/workflow"
)

var ErrSessionActive = errors.New("an inspection session is already in progress; reset or hand it off first")

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Logger   *slog.Logger
	MediaDir string
	Now      func() time.Time

	Queue     *syncq.Queue
	Checklist *checklist.Tracker
	Media     *media.Registry
	Syncer    *syncer.Orchestrator
	Workflow  *workflow.Machine
	Network   *netmon.Monitor

	// mu serializes snapshot writes so the stored session never goes back in time.
	mu sync.Mutex
}

// Backend holds the remote collaborators.
type Backend interface {
	syncer.ChecklistAPI
	workflow.SessionCreator
}

type Deps struct {
	Backend  Backend
	Uploader syncer.MediaUploader
	Network  *netmon.Monitor
	// Syncer is optional; its Queue, Checklist, Media, API and Uploader are
	// filled in by New.
	Syncer *syncer.Orchestrator
}

func New(db *sql.DB, cfg *config.Config, mediaDir string, logger *slog.Logger, deps Deps) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	queue := syncq.New()
	tracker := checklist.NewTracker(queue)
	registry := media.NewRegistry(queue)
	orch := deps.Syncer
	if orch == nil {
		orch = &syncer.Orchestrator{}
	}
	orch.Queue = queue
	orch.Checklist = tracker
	orch.Media = registry
	orch.API = deps.Backend
	orch.Uploader = deps.Uploader
	if orch.Network == nil {
		orch.Network = deps.Network
	}
	if orch.Logger == nil {
		orch.Logger = logger
	}
	machine := workflow.New(tracker, registry, queue, orch, deps.Backend, workflow.Options{
		RequireVideo: cfg.Workflow.RequireVideo,
		InspectorID:  cfg.Inspector.ID,
		Logger:       logger,
	})
	return &Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Logger:    logger,
		MediaDir:  mediaDir,
		Now:       time.Now,
		Queue:     queue,
		Checklist: tracker,
		Media:     registry,
		Syncer:    orch,
		Workflow:  machine,
		Network:   deps.Network,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Open restores the open session from the store, or starts and persists a
// fresh one.
func (e *Engine) Open(ctx context.Context, actorID string) (domain.Snapshot, error) {
	snap, err := e.Repo.ActiveSession(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		st := e.Workflow.State()
		if err := e.persist(ctx, events.SessionStart, "session", st.SessionID, actorID, events.EventPayload{"inspector_id": st.InspectorID}); err != nil {
			return domain.Snapshot{}, err
		}
		return e.Snapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	if err := e.Workflow.Restore(snap.Workflow); err != nil {
		return domain.Snapshot{}, err
	}
	e.Checklist.Restore(snap.Checklist)
	e.Media.Restore(snap.Media)
	e.Queue.Restore(snap.Queue)
	e.Syncer.SetLastResult(snap.LastSync)
	e.Logger.Debug("session restored", "session_id", snap.Workflow.SessionID, "step", snap.Workflow.CurrentStep)
	return e.Snapshot(), nil
}

func (e *Engine) Snapshot() domain.Snapshot {
	return e.Workflow.Snapshot()
}

// persist writes the current snapshot and one event atomically.
func (e *Engine) persist(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.Workflow.Snapshot()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveSnapshotTx(ctx, tx, snap, e.now()); err != nil {
		return err
	}
	if _, err := e.Events.Append(ctx, tx, evtType, snap.Workflow.SessionID, entityKind, entityID, actorOrDefault(actorID), payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		e.Logger.Error("persist session failed", "event", evtType, "err", err)
		return err
	}
	return nil
}

func actorOrDefault(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return "local-user"
	}
	return actorID
}

// StartSession selects the property of a fresh session. It refuses to
// replace a session that already carries work.
func (e *Engine) StartSession(ctx context.Context, actorID, propertyRef string) (domain.Snapshot, error) {
	st := e.Workflow.State()
	if st.CurrentStepIndex > 0 || st.InspectionID != nil || e.Checklist.Populated() || len(e.Media.Items()) > 0 {
		return e.Snapshot(), ErrSessionActive
	}
	if actorID != "" && st.InspectorID == "" {
		e.Workflow.SetInspector(actorID)
	}
	if _, err := e.SelectProperty(ctx, actorID, propertyRef); err != nil {
		return e.Snapshot(), err
	}
	return e.Snapshot(), nil
}

func (e *Engine) SelectProperty(ctx context.Context, actorID, ref string) (domain.WorkflowState, error) {
	st, err := e.Workflow.SelectProperty(ref)
	if err != nil {
		return st, err
	}
	return st, e.persist(ctx, events.PropertySelect, "session", st.SessionID, actorID, events.EventPayload{"property_ref": st.SelectedPropertyRef})
}

func (e *Engine) SetChecklist(ctx context.Context, actorID string, items []domain.ChecklistItem) (domain.ChecklistCounters, error) {
	if err := e.Checklist.SetChecklist(items); err != nil {
		return e.Checklist.Counters(), err
	}
	counters := e.Checklist.Counters()
	return counters, e.persist(ctx, events.ChecklistSet, "checklist", "", actorID, events.EventPayload{
		"total":    counters.TotalCount,
		"required": counters.RequiredCount,
	})
}

// LoadChecklistFile reads templates from a YAML or JSON file and populates the checklist.
func (e *Engine) LoadChecklistFile(ctx context.Context, actorID, path string) (domain.ChecklistCounters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ChecklistCounters{}, err
	}
	items, err := checklist.ParseTemplates(data)
	if err != nil {
		return domain.ChecklistCounters{}, err
	}
	return e.SetChecklist(ctx, actorID, items)
}

func (e *Engine) UpdateItem(ctx context.Context, actorID, id string, u checklist.Update) (domain.ChecklistItem, error) {
	it, err := e.Checklist.UpdateItem(id, u)
	if err != nil {
		return it, err
	}
	return it, e.persistItem(ctx, actorID, it)
}

func (e *Engine) CompleteItem(ctx context.Context, actorID, id string, notes *string) (domain.ChecklistItem, error) {
	it, err := e.Checklist.CompleteItem(id, notes)
	if err != nil {
		return it, err
	}
	return it, e.persistItem(ctx, actorID, it)
}

func (e *Engine) MarkNotApplicable(ctx context.Context, actorID, id string, notes *string) (domain.ChecklistItem, error) {
	it, err := e.Checklist.MarkNotApplicable(id, notes)
	if err != nil {
		return it, err
	}
	return it, e.persistItem(ctx, actorID, it)
}

func (e *Engine) persistItem(ctx context.Context, actorID string, it domain.ChecklistItem) error {
	counters := e.Checklist.Counters()
	return e.persist(ctx, events.ChecklistUpdate, "checklist_item", it.ID, actorID, events.EventPayload{
		"status":    it.Status,
		"completed": counters.CompletedCount,
		"remaining": counters.RemainingCount,
	})
}

// AddMediaOptions describes a captured file handed over by the capture UI.
type AddMediaOptions struct {
	ID              string
	Kind            domain.MediaKind
	SourcePath      string
	ChecklistItemID string
	// Move removes the source file once it is spooled.
	Move bool
}

// AddMedia copies the capture into the spool directory and registers it.
func (e *Engine) AddMedia(ctx context.Context, actorID string, opts AddMediaOptions) (domain.MediaItem, error) {
	if !opts.Kind.Valid() {
		return domain.MediaItem{}, media.ErrInvalidKind
	}
	if opts.ChecklistItemID != "" {
		if _, err := e.Checklist.Item(opts.ChecklistItemID); err != nil {
			return domain.MediaItem{}, err
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	spooled, size, err := e.spool(id, opts.SourcePath)
	if err != nil {
		return domain.MediaItem{}, err
	}
	item, err := e.Media.AddMedia(domain.MediaItem{
		ID:              id,
		Kind:            opts.Kind,
		ChecklistItemID: opts.ChecklistItemID,
		SourceFile:      spooled,
		ContentType:     blob.DetectContentType(spooled),
		SizeBytes:       size,
	})
	if err != nil {
		_ = os.Remove(spooled)
		return item, err
	}
	if opts.Move {
		if err := os.Remove(opts.SourcePath); err != nil {
			e.Logger.Warn("remove captured source failed", "path", opts.SourcePath, "err", err)
		}
	}
	return item, e.persist(ctx, events.MediaAdd, "media_item", item.ID, actorID, events.EventPayload{
		"kind":              item.Kind,
		"checklist_item_id": item.ChecklistItemID,
		"size_bytes":        item.SizeBytes,
		"content_type":      item.ContentType,
	})
}

// AddMediaReader spools a capture delivered as a stream, e.g. an HTTP upload.
func (e *Engine) AddMediaReader(ctx context.Context, actorID string, opts AddMediaOptions, filename string, r io.Reader) (domain.MediaItem, error) {
	tmp, err := os.CreateTemp(e.mediaDir(), "incoming-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return domain.MediaItem{}, err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return domain.MediaItem{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return domain.MediaItem{}, err
	}
	opts.SourcePath = tmp.Name()
	opts.Move = true
	item, err := e.AddMedia(ctx, actorID, opts)
	if err != nil {
		os.Remove(tmp.Name())
	}
	return item, err
}

func (e *Engine) mediaDir() string {
	if e.MediaDir != "" {
		return e.MediaDir
	}
	return os.TempDir()
}

func (e *Engine) spool(id, src string) (string, int64, error) {
	if strings.TrimSpace(src) == "" {
		return "", 0, errors.New("media source file is required")
	}
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open capture: %w", err)
	}
	defer in.Close()
	if err := os.MkdirAll(e.mediaDir(), 0o755); err != nil {
		return "", 0, err
	}
	dst := filepath.Join(e.mediaDir(), id+strings.ToLower(filepath.Ext(src)))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("spool capture: %w", err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", 0, fmt.Errorf("spool capture: %w", err)
	}
	return dst, n, nil
}

func (e *Engine) RetryMedia(ctx context.Context, actorID, id string) (domain.MediaItem, error) {
	if err := e.Media.RetryFailed(id); err != nil {
		return domain.MediaItem{}, err
	}
	it, err := e.Media.Item(id)
	if err != nil {
		return it, err
	}
	return it, e.persist(ctx, events.MediaRetry, "media_item", id, actorID, nil)
}

func (e *Engine) SkipVideo(ctx context.Context, actorID string) (domain.WorkflowState, error) {
	st, err := e.Workflow.SkipVideo()
	if err != nil {
		return st, err
	}
	return st, e.persist(ctx, events.VideoSkip, "session", st.SessionID, actorID, nil)
}

func (e *Engine) Advance(ctx context.Context, actorID string) (domain.WorkflowState, error) {
	before := e.Workflow.State()
	st, err := e.Workflow.Advance(ctx)
	if err != nil {
		return st, err
	}
	payload := events.EventPayload{"from": before.CurrentStep, "to": st.CurrentStep}
	if before.InspectionID == nil && st.InspectionID != nil {
		payload["inspection_id"] = *st.InspectionID
	}
	return st, e.persist(ctx, events.WorkflowAdvance, "session", st.SessionID, actorID, payload)
}

func (e *Engine) Previous(ctx context.Context, actorID string) (domain.WorkflowState, error) {
	before := e.Workflow.State()
	st, err := e.Workflow.Previous()
	if err != nil {
		return st, err
	}
	return st, e.persist(ctx, events.WorkflowPrevious, "session", st.SessionID, actorID, events.EventPayload{"from": before.CurrentStep, "to": st.CurrentStep})
}

// Sync runs one reconciliation pass and persists its outcome.
func (e *Engine) Sync(ctx context.Context, actorID string) (domain.SyncResult, error) {
	res, err := e.Workflow.Sync(ctx)
	if err != nil {
		return res, err
	}
	st := e.Workflow.State()
	perr := e.persist(ctx, events.SyncRun, "session", st.SessionID, actorID, events.EventPayload{
		"confirmed":       res.Confirmed,
		"media_completed": res.MediaCompleted,
		"failures":        len(res.Failures),
		"remaining_queue": res.RemainingQueue,
		"pending_media":   res.PendingMedia,
		"fully_synced":    res.FullySynced,
		"offline":         res.Offline,
	})
	return res, perr
}

// Reset abandons the current session and starts a fresh one.
func (e *Engine) Reset(ctx context.Context, actorID string) (domain.WorkflowState, error) {
	old := e.Workflow.State()
	st, err := e.Workflow.Reset()
	if err != nil {
		return st, err
	}
	return st, e.rotate(ctx, old.SessionID, st.SessionID, actorID, events.SessionReset, nil)
}

// Handoff closes a completed session, returning its final snapshot, and
// removes the spooled copies of uploaded media.
func (e *Engine) Handoff(ctx context.Context, actorID string) (domain.Snapshot, error) {
	final, err := e.Workflow.Handoff()
	if err != nil {
		return final, err
	}
	e.mu.Lock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.mu.Unlock()
		return final, err
	}
	err = e.Repo.SaveSnapshotTx(ctx, tx, final, e.now())
	if err == nil {
		err = tx.Commit()
	} else {
		tx.Rollback()
	}
	e.mu.Unlock()
	if err != nil {
		return final, err
	}
	st := e.Workflow.State()
	inspectionID := ""
	if final.Workflow.InspectionID != nil {
		inspectionID = *final.Workflow.InspectionID
	}
	if err := e.rotate(ctx, final.Workflow.SessionID, st.SessionID, actorID, events.SessionHandoff, events.EventPayload{
		"inspection_id": inspectionID,
		"media":         len(final.Media),
		"checklist":     len(final.Checklist),
	}); err != nil {
		return final, err
	}
	for _, m := range final.Media {
		if m.UploadStatus == domain.UploadCompleted {
			if err := os.Remove(m.SourceFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.Logger.Warn("remove spooled media failed", "id", m.ID, "err", err)
			}
		}
	}
	return final, nil
}

// rotate closes the old session row and stores the new one in one transaction.
func (e *Engine) rotate(ctx context.Context, oldID, newID, actorID, evtType string, payload events.EventPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.CloseSessionTx(ctx, tx, oldID, e.now()); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if _, err := e.Events.Append(ctx, tx, evtType, oldID, "session", oldID, actorOrDefault(actorID), payload); err != nil {
		return err
	}
	if err := e.Repo.SaveSnapshotTx(ctx, tx, e.Workflow.Snapshot(), e.now()); err != nil {
		return err
	}
	if _, err := e.Events.Append(ctx, tx, events.SessionStart, newID, "session", newID, actorOrDefault(actorID), nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) LatestEvents(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, cursor, f)
}

// WatchNetwork records connectivity changes and, when enabled, re-runs the
// sync on reconnect. It blocks until ctx is done.
func (e *Engine) WatchNetwork(ctx context.Context, actorID string) {
	if e.Network == nil {
		<-ctx.Done()
		return
	}
	e.Network.Watch(ctx, func(evt netmon.Event) {
		st := e.Workflow.State()
		if err := e.persist(ctx, events.NetworkChange, "network", "", actorID, events.EventPayload{
			"type":    evt.Type,
			"online":  evt.Online,
			"quality": evt.Quality,
		}); err != nil {
			e.Logger.Error("record network change failed", "err", err)
		}
		if evt.Type != netmon.EventReconnect || !e.Config.Sync.OnReconnect || st.InspectionID == nil {
			return
		}
		res, err := e.Sync(ctx, actorID)
		switch {
		case errors.Is(err, syncer.ErrSyncAlreadyInProgress):
			e.Logger.Debug("reconnect sync skipped, run in flight")
		case err != nil:
			e.Logger.Error("reconnect sync failed", "err", err)
		default:
			e.Logger.Info("reconnect sync done", "fully_synced", res.FullySynced, "failures", len(res.Failures))
		}
	})
}

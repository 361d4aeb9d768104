package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const tsLayout = time.RFC3339Nano

// SaveSnapshotTx writes the whole session: the session row is upserted and
// the child rows are replaced.
func (r Repo) SaveSnapshotTx(ctx context.Context, tx *sql.Tx, snap domain.Snapshot, now time.Time) error {
	wf := snap.Workflow
	if wf.SessionID == "" {
		return errors.New("session id is required")
	}
	var lastSync any
	if snap.LastSync != nil {
		data, err := json.Marshal(snap.LastSync)
		if err != nil {
			return fmt.Errorf("marshal last sync: %w", err)
		}
		lastSync = string(data)
	}
	ts := now.UTC().Format(tsLayout)
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,property_ref,inspector_id,inspection_id,current_step_index,video_skipped,is_complete,last_sync_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET property_ref=excluded.property_ref, inspector_id=excluded.inspector_id, inspection_id=excluded.inspection_id,
current_step_index=excluded.current_step_index, video_skipped=excluded.video_skipped, is_complete=excluded.is_complete,
last_sync_json=excluded.last_sync_json, updated_at=excluded.updated_at`,
		wf.SessionID, nullable(wf.SelectedPropertyRef), nullable(wf.InspectorID), nullableStringPtr(wf.InspectionID),
		wf.CurrentStepIndex, boolInt(wf.VideoSkipped), boolInt(wf.IsComplete), lastSync, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	for _, table := range []string{"checklist_items", "media_items", "sync_queue"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id=?`, wf.SessionID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i, it := range snap.Checklist {
		var ai any
		if it.AIResult != nil {
			data, err := json.Marshal(it.AIResult)
			if err != nil {
				return fmt.Errorf("marshal ai result of %s: %w", it.ID, err)
			}
			ai = string(data)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(session_id,id,position,title,category,required_evidence_type,required,status,completed_at,notes,ai_result_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			wf.SessionID, it.ID, i, nullable(it.Title), nullable(it.Category), string(it.RequiredEvidenceType), boolInt(it.Required),
			string(it.Status), nullableTime(it.CompletedAt), nullableStringPtr(it.Notes), ai); err != nil {
			return fmt.Errorf("insert checklist item %s: %w", it.ID, err)
		}
	}
	for _, m := range snap.Media {
		if _, err := tx.ExecContext(ctx, `INSERT INTO media_items(session_id,id,kind,checklist_item_id,source_file,content_type,size_bytes,created_at,upload_status,upload_progress,remote_url,last_error)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			wf.SessionID, m.ID, string(m.Kind), nullable(m.ChecklistItemID), m.SourceFile, nullable(m.ContentType), m.SizeBytes,
			m.CreatedAt.UTC().Format(tsLayout), string(m.UploadStatus), m.UploadProgress, nullableStringPtr(m.RemoteURL), nullableStringPtr(m.LastError)); err != nil {
			return fmt.Errorf("insert media item %s: %w", m.ID, err)
		}
	}
	for _, q := range snap.Queue {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sync_queue(session_id,target_kind,target_id,enqueued_at,attempt_count,last_attempt_at,last_error)
VALUES (?,?,?,?,?,?,?)`,
			wf.SessionID, string(q.TargetKind), q.TargetID, q.EnqueuedAt.UTC().Format(tsLayout), q.AttemptCount,
			nullableTime(q.LastAttemptAt), nullableStringPtr(q.LastError)); err != nil {
			return fmt.Errorf("insert queue item %s/%s: %w", q.TargetKind, q.TargetID, err)
		}
	}
	return nil
}

// CloseSessionTx marks a session as handed off or reset; it is no longer loaded on start.
func (r Repo) CloseSessionTx(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET closed_at=?, updated_at=? WHERE id=? AND closed_at IS NULL`,
		now.UTC().Format(tsLayout), now.UTC().Format(tsLayout), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveSession loads the most recent open session.
func (r Repo) ActiveSession(ctx context.Context) (domain.Snapshot, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM sessions WHERE closed_at IS NULL ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return r.LoadSession(ctx, id)
}

func (r Repo) LoadSession(ctx context.Context, id string) (domain.Snapshot, error) {
	var (
		snap                           domain.Snapshot
		propertyRef, inspector, inspID sql.NullString
		lastSync                       sql.NullString
		videoSkipped, isComplete       int
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,property_ref,inspector_id,inspection_id,current_step_index,video_skipped,is_complete,last_sync_json FROM sessions WHERE id=?`, id).
		Scan(&snap.Workflow.SessionID, &propertyRef, &inspector, &inspID, &snap.Workflow.CurrentStepIndex, &videoSkipped, &isComplete, &lastSync)
	if err == sql.ErrNoRows {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, err
	}
	wf := &snap.Workflow
	wf.SelectedPropertyRef = propertyRef.String
	wf.InspectorID = inspector.String
	if inspID.Valid {
		v := inspID.String
		wf.InspectionID = &v
	}
	wf.VideoSkipped = videoSkipped != 0
	wf.IsComplete = isComplete != 0
	wf.TotalSteps = len(domain.Steps)
	if wf.CurrentStepIndex >= 0 && wf.CurrentStepIndex < len(domain.Steps) {
		wf.CurrentStep = domain.Steps[wf.CurrentStepIndex]
	}
	if lastSync.Valid && lastSync.String != "" {
		var res domain.SyncResult
		if err := json.Unmarshal([]byte(lastSync.String), &res); err != nil {
			return snap, fmt.Errorf("decode last sync: %w", err)
		}
		snap.LastSync = &res
	}
	if snap.Checklist, err = r.listChecklist(ctx, id); err != nil {
		return snap, err
	}
	if snap.Media, err = r.listMedia(ctx, id); err != nil {
		return snap, err
	}
	if snap.Queue, err = r.listQueue(ctx, id); err != nil {
		return snap, err
	}
	return snap, nil
}

func (r Repo) listChecklist(ctx context.Context, sessionID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(title,''),COALESCE(category,''),required_evidence_type,required,status,completed_at,notes,ai_result_json
FROM checklist_items WHERE session_id=? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		var (
			it                 domain.ChecklistItem
			evidence, status   string
			required           int
			completedAt, notes sql.NullString
			aiResult           sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Title, &it.Category, &evidence, &required, &status, &completedAt, &notes, &aiResult); err != nil {
			return nil, err
		}
		it.RequiredEvidenceType = domain.EvidenceType(evidence)
		it.Status = domain.ItemStatus(status)
		it.Required = required != 0
		if it.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		it.Notes = stringPtr(notes)
		if aiResult.Valid && aiResult.String != "" {
			if err := json.Unmarshal([]byte(aiResult.String), &it.AIResult); err != nil {
				return nil, fmt.Errorf("decode ai result of %s: %w", it.ID, err)
			}
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) listMedia(ctx context.Context, sessionID string) ([]domain.MediaItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,COALESCE(checklist_item_id,''),source_file,COALESCE(content_type,''),size_bytes,created_at,upload_status,upload_progress,remote_url,last_error
FROM media_items WHERE session_id=? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MediaItem
	for rows.Next() {
		var (
			m                    domain.MediaItem
			kind, status, create string
			remoteURL, lastErr   sql.NullString
		)
		if err := rows.Scan(&m.ID, &kind, &m.ChecklistItemID, &m.SourceFile, &m.ContentType, &m.SizeBytes, &create, &status, &m.UploadProgress, &remoteURL, &lastErr); err != nil {
			return nil, err
		}
		m.Kind = domain.MediaKind(kind)
		m.UploadStatus = domain.UploadStatus(status)
		if m.CreatedAt, err = time.Parse(tsLayout, create); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", m.ID, err)
		}
		m.RemoteURL = stringPtr(remoteURL)
		m.LastError = stringPtr(lastErr)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) listQueue(ctx context.Context, sessionID string) ([]domain.SyncQueueItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT target_kind,target_id,enqueued_at,attempt_count,last_attempt_at,last_error
FROM sync_queue WHERE session_id=? ORDER BY enqueued_at, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncQueueItem
	for rows.Next() {
		var (
			q                  domain.SyncQueueItem
			kind, enqueued     string
			lastAttempt, lastE sql.NullString
		)
		if err := rows.Scan(&kind, &q.TargetID, &enqueued, &q.AttemptCount, &lastAttempt, &lastE); err != nil {
			return nil, err
		}
		q.TargetKind = domain.TargetKind(kind)
		if q.EnqueuedAt, err = time.Parse(tsLayout, enqueued); err != nil {
			return nil, fmt.Errorf("parse enqueued_at of %s: %w", q.TargetID, err)
		}
		if q.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
			return nil, err
		}
		q.LastError = stringPtr(lastE)
		res = append(res, q)
	}
	return res, rows.Err()
}

// EventFilter narrows LatestEvents; empty fields match everything.
type EventFilter struct {
	SessionID  string
	Type       string
	EntityKind string
	EntityID   string
}

// LatestEvents returns events newest first, optionally before a cursor id.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(session_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, sessionID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(session_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID overall.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(tsLayout)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(tsLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

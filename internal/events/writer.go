package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the session engine.
const (
	SessionStart     = "session.start"
	SessionReset     = "session.reset"
	SessionHandoff   = "session.handoff"
	PropertySelect   = "property.select"
	ChecklistSet     = "checklist.set"
	ChecklistUpdate  = "checklist.update"
	MediaAdd         = "media.add"
	MediaRetry       = "media.retry"
	VideoSkip        = "video.skip"
	WorkflowAdvance  = "workflow.advance"
	WorkflowPrevious = "workflow.previous"
	SyncRun          = "sync.run"
	NetworkChange    = "network.change"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, sessionID, entityKind, entityID, actorID string, payload EventPayload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,session_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(sessionID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package server

import (
	"encoding/json"

	"fieldline/internal/domain"
	"fieldline/internal/netmon"
)

// Request payloads

type StartSessionRequest struct {
	PropertyRef string `json:"property_ref" minLength:"1"`
}

type SelectPropertyRequest struct {
	PropertyRef string `json:"property_ref" minLength:"1"`
}

type SetChecklistRequest struct {
	Items []ChecklistItemRequest `json:"items" minItems:"1"`
}

type ChecklistItemRequest struct {
	ID                   string  `json:"id" minLength:"1"`
	Title                string  `json:"title,omitempty"`
	Category             string  `json:"category,omitempty"`
	RequiredEvidenceType string  `json:"required_evidence_type,omitempty" enum:"photo,video,none"`
	Required             bool    `json:"required"`
	Notes                *string `json:"notes,omitempty"`
}

type UpdateItemRequest struct {
	Status   *string        `json:"status,omitempty" enum:"pending,in_progress,completed,failed,not_applicable"`
	Notes    *string        `json:"notes,omitempty"`
	AIResult map[string]any `json:"ai_result,omitempty"`
}

type ItemNotesRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id" minLength:"1"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type SessionResponse struct {
	Workflow   domain.WorkflowState     `json:"workflow"`
	Checklist  []domain.ChecklistItem   `json:"checklist"`
	Counters   domain.ChecklistCounters `json:"counters"`
	Media      []domain.MediaItem       `json:"media"`
	MediaCount domain.MediaCounts       `json:"media_counts"`
	Queue      []domain.SyncQueueItem   `json:"queue"`
	LastSync   *domain.SyncResult       `json:"last_sync,omitempty"`
	Syncing    bool                     `json:"syncing"`
	Network    *netmon.Status           `json:"network,omitempty"`
}

type ChecklistResponse struct {
	Items    []domain.ChecklistItem   `json:"items"`
	Counters domain.ChecklistCounters `json:"counters"`
}

type MediaListResponse struct {
	Items  []domain.MediaItem `json:"items"`
	Counts domain.MediaCounts `json:"counts"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func sessionResponse(s domain.Snapshot, net *netmon.Monitor) SessionResponse {
	res := SessionResponse{
		Workflow:   s.Workflow,
		Checklist:  nonNilSlice(s.Checklist),
		Counters:   s.Counters,
		Media:      nonNilSlice(s.Media),
		MediaCount: s.MediaCount,
		Queue:      nonNilSlice(s.Queue),
		LastSync:   s.LastSync,
		Syncing:    s.Syncing,
	}
	if net != nil {
		st := net.Status()
		res.Network = &st
	}
	return res
}

func checklistItems(in []ChecklistItemRequest) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, 0, len(in))
	for _, it := range in {
		out = append(out, domain.ChecklistItem{
			ID:                   it.ID,
			Title:                it.Title,
			Category:             it.Category,
			RequiredEvidenceType: domain.EvidenceType(it.RequiredEvidenceType),
			Required:             it.Required,
			Notes:                it.Notes,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

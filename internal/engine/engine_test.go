package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/events"
	"fieldline/internal/logging"
	"fieldline/internal/migrate"
	"fieldline/internal/netmon"
	"fieldline/internal/remote"
	"fieldline/internal/repo"
)

type fakeBackend struct {
	created int
	upserts int
}

func (b *fakeBackend) CreateInspection(ctx context.Context, propertyID, inspectorID string) (string, error) {
	b.created++
	return "insp-1", nil
}

func (b *fakeBackend) UpsertChecklistItem(ctx context.Context, inspectionID string, item remote.ChecklistUpsert) error {
	b.upserts++
	return nil
}

func (b *fakeBackend) UploadMedia(ctx context.Context, inspectionID string, item domain.MediaItem, progress func(int)) (string, error) {
	if _, err := os.Stat(item.SourceFile); err != nil {
		return "", err
	}
	return "https://cdn.test/" + inspectionID + "/" + item.ID, nil
}

type testEnv struct {
	Engine    *engine.Engine
	Ctx       context.Context
	Conn      *sql.DB
	Workspace string
	Backend   *fakeBackend
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	backend := &fakeBackend{}
	env := testEnv{Ctx: ctx, Conn: conn, Workspace: dir, Backend: backend}
	env.Engine = env.open(t)
	return env
}

// open builds a fresh engine over the same database, as a restarted process would.
func (env testEnv) open(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Inspector.ID = "inspector-1"
	logger := logging.Discard()
	eng := engine.New(env.Conn, cfg, db.MediaDir(env.Workspace), logger, engine.Deps{
		Backend:  env.Backend,
		Uploader: env.Backend,
		Network:  netmon.New(true, logger),
	})
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := eng.Open(env.Ctx, "tester"); err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return eng
}

func writeCapture(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	// minimal JPEG header so content sniffing has something to chew on
	if err := os.WriteFile(p, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return p
}

func populate(t *testing.T, env testEnv) {
	t.Helper()
	if _, err := env.Engine.StartSession(env.Ctx, "tester", "prop-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := env.Engine.Advance(env.Ctx, "tester"); err != nil {
		t.Fatalf("advance to checklist: %v", err)
	}
	if _, err := env.Engine.SetChecklist(env.Ctx, "tester", []domain.ChecklistItem{
		{ID: "smoke_detector", RequiredEvidenceType: domain.EvidencePhoto, Required: true},
		{ID: "water_heater", RequiredEvidenceType: domain.EvidenceNone},
	}); err != nil {
		t.Fatalf("set checklist: %v", err)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	populate(t, env)
	notes := "battery replaced"
	if _, err := env.Engine.CompleteItem(env.Ctx, "tester", "smoke_detector", &notes); err != nil {
		t.Fatalf("complete item: %v", err)
	}
	item, err := env.Engine.AddMedia(env.Ctx, "tester", engine.AddMediaOptions{
		Kind:            domain.MediaPhoto,
		SourcePath:      writeCapture(t, "smoke.jpg"),
		ChecklistItemID: "smoke_detector",
	})
	if err != nil {
		t.Fatalf("add media: %v", err)
	}
	before := env.Engine.Snapshot()

	restarted := env.open(t)
	after := restarted.Snapshot()
	if after.Workflow.SessionID != before.Workflow.SessionID {
		t.Fatalf("expected session %s, got %s", before.Workflow.SessionID, after.Workflow.SessionID)
	}
	if after.Workflow.CurrentStep != domain.StepChecklistGeneration || after.Workflow.SelectedPropertyRef != "prop-1" {
		t.Fatalf("unexpected workflow after restart: %+v", after.Workflow)
	}
	if after.Counters != before.Counters || after.Counters.CompletedCount != 1 {
		t.Fatalf("counters drifted: before %+v after %+v", before.Counters, after.Counters)
	}
	got, err := restarted.Checklist.Item("smoke_detector")
	if err != nil || got.Notes == nil || *got.Notes != notes {
		t.Fatalf("notes not restored: %+v %v", got, err)
	}
	if len(after.Media) != 1 || after.Media[0].ID != item.ID || after.Media[0].UploadStatus != domain.UploadPending {
		t.Fatalf("media not restored: %+v", after.Media)
	}
	if len(after.Queue) != len(before.Queue) {
		t.Fatalf("queue not restored: before %d after %d", len(before.Queue), len(after.Queue))
	}
}

func TestAddMediaSpoolsCapture(t *testing.T) {
	env := newTestEnv(t)
	populate(t, env)
	src := writeCapture(t, "IMG_0001.JPG")
	item, err := env.Engine.AddMedia(env.Ctx, "tester", engine.AddMediaOptions{
		ID:         "m1",
		Kind:       domain.MediaPhoto,
		SourcePath: src,
		Move:       true,
	})
	if err != nil {
		t.Fatalf("add media: %v", err)
	}
	want := filepath.Join(db.MediaDir(env.Workspace), "m1.jpg")
	if item.SourceFile != want {
		t.Fatalf("expected spool path %s, got %s", want, item.SourceFile)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("spooled file missing: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected source to be moved, stat err %v", err)
	}
	if item.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", item.ContentType)
	}
	if item.SizeBytes == 0 {
		t.Fatalf("expected size to be recorded")
	}

	if _, err := env.Engine.AddMedia(env.Ctx, "tester", engine.AddMediaOptions{Kind: "audio", SourcePath: writeCapture(t, "a.jpg")}); err == nil {
		t.Fatalf("expected invalid kind to be rejected")
	}
	if _, err := env.Engine.AddMedia(env.Ctx, "tester", engine.AddMediaOptions{Kind: domain.MediaPhoto, SourcePath: writeCapture(t, "b.jpg"), ChecklistItemID: "nope"}); err == nil {
		t.Fatalf("expected unknown checklist item to be rejected")
	}
	if _, err := env.Engine.AddMedia(env.Ctx, "tester", engine.AddMediaOptions{Kind: domain.MediaPhoto}); err == nil {
		t.Fatalf("expected missing source to be rejected")
	}
	if n := len(env.Engine.Media.Items()); n != 1 {
		t.Fatalf("expected only the valid capture to register, got %d", n)
	}
}

func TestStartSessionRefusesActiveSession(t *testing.T) {
	env := newTestEnv(t)
	populate(t, env)
	if _, err := env.Engine.StartSession(env.Ctx, "tester", "prop-2"); !errors.Is(err, engine.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if ref := env.Engine.Workflow.State().SelectedPropertyRef; ref != "prop-1" {
		t.Fatalf("property changed to %s", ref)
	}
}

func TestHandoffRotatesSession(t *testing.T) {
	env := newTestEnv(t)
	populate(t, env)
	ctx := env.Ctx
	if _, err := env.Engine.Advance(ctx, "tester"); err != nil {
		t.Fatalf("advance to photos: %v", err)
	}
	if _, err := env.Engine.CompleteItem(ctx, "tester", "smoke_detector", nil); err != nil {
		t.Fatalf("complete item: %v", err)
	}
	item, err := env.Engine.AddMedia(ctx, "tester", engine.AddMediaOptions{Kind: domain.MediaPhoto, SourcePath: writeCapture(t, "p.jpg")})
	if err != nil {
		t.Fatalf("add media: %v", err)
	}
	if _, err := env.Engine.Handoff(ctx, "tester"); err == nil {
		t.Fatalf("expected handoff of an incomplete session to fail")
	}
	for _, want := range []domain.Step{domain.StepVideoWalkthrough, domain.StepOfflineSync} {
		st, err := env.Engine.Advance(ctx, "tester")
		if err != nil || st.CurrentStep != want {
			t.Fatalf("advance to %s: %+v %v", want, st, err)
		}
	}
	res, err := env.Engine.Sync(ctx, "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.FullySynced || res.MediaCompleted != 1 {
		t.Fatalf("expected full sync, got %+v", res)
	}
	oldID := env.Engine.Workflow.State().SessionID
	final, err := env.Engine.Handoff(ctx, "tester")
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if !final.Workflow.IsComplete || final.Workflow.SessionID != oldID {
		t.Fatalf("unexpected final snapshot: %+v", final.Workflow)
	}
	if final.Media[0].RemoteURL == nil || *final.Media[0].RemoteURL != "https://cdn.test/insp-1/"+item.ID {
		t.Fatalf("unexpected remote url: %+v", final.Media[0])
	}
	if _, err := os.Stat(item.SourceFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected spooled media to be removed, stat err %v", err)
	}
	if env.Backend.created != 1 {
		t.Fatalf("expected one inspection, got %d", env.Backend.created)
	}

	active, err := env.Engine.Repo.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active.Workflow.SessionID == oldID || active.Workflow.CurrentStepIndex != 0 {
		t.Fatalf("expected a fresh active session, got %+v", active.Workflow)
	}
	closed, err := env.Engine.Repo.LoadSession(ctx, oldID)
	if err != nil || !closed.Workflow.IsComplete {
		t.Fatalf("expected old session to be stored complete: %+v %v", closed.Workflow, err)
	}
	evts, err := env.Engine.LatestEvents(ctx, 10, 0, repo.EventFilter{Type: events.SessionHandoff})
	if err != nil || len(evts) != 1 || evts[0].SessionID != oldID {
		t.Fatalf("expected one handoff event for %s, got %+v %v", oldID, evts, err)
	}
}

func TestResetClearsSession(t *testing.T) {
	env := newTestEnv(t)
	populate(t, env)
	old := env.Engine.Workflow.State().SessionID
	st, err := env.Engine.Reset(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st.SessionID == old || st.CurrentStepIndex != 0 || st.InspectorID != "inspector-1" {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
	if env.Engine.Checklist.Populated() || env.Engine.Queue.Len() != 0 {
		t.Fatalf("expected checklist and queue to be cleared")
	}
	restarted := env.open(t)
	if got := restarted.Workflow.State().SessionID; got != st.SessionID {
		t.Fatalf("expected restart to load %s, got %s", st.SessionID, got)
	}
}

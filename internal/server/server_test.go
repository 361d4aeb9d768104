package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/logging"
	"fieldline/internal/migrate"
	"fieldline/internal/netmon"
	"fieldline/internal/remote"
)

const testSecret = "test-secret"

type fakeBackend struct {
	mu       sync.Mutex
	upserts  []remote.ChecklistUpsert
	uploaded []string
}

func (f *fakeBackend) CreateInspection(ctx context.Context, propertyID, inspectorID string) (string, error) {
	return "insp-" + propertyID, nil
}

func (f *fakeBackend) UpsertChecklistItem(ctx context.Context, inspectionID string, item remote.ChecklistUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, item)
	return nil
}

func (f *fakeBackend) UploadMedia(ctx context.Context, inspectionID string, item domain.MediaItem, progress func(pct int)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, item.ID)
	return "https://cdn.test/" + inspectionID + "/" + item.ID, nil
}

type testServer struct {
	URL    string
	client *http.Client
	token  string
	engine *engine.Engine
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true})
}

func newTestServerWithAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := logging.Discard()
	backend := &fakeBackend{}
	e := engine.New(conn, cfg, db.MediaDir(workspace), logger, engine.Deps{
		Backend:  backend,
		Uploader: backend,
		Network:  netmon.New(true, logger),
	})
	if _, err := e.Open(context.Background(), "tester"); err != nil {
		t.Fatalf("open engine: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Logger: logger})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	token, err := SignToken(testSecret, "inspector-1", []string{"inspector"}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		token:  token,
		engine: e,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, s *testServer, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	return doRaw(t, s, method, path, "application/json", reader, headers)
}

func doRaw(t *testing.T, s *testServer, method, path, contentType string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	res, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func startWithChecklist(t *testing.T, s *testServer) {
	t.Helper()
	res, data := doJSON(t, s, http.MethodPost, "/v0/session/start", map[string]any{"property_ref": "prop-42"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, s, http.MethodPost, "/v0/session/checklist", map[string]any{
		"items": []map[string]any{
			{"id": "smoke_detector", "title": "Smoke detector", "required_evidence_type": "photo", "required": true},
			{"id": "water_heater", "title": "Water heater", "required_evidence_type": "none", "required": false},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("set checklist: %d %s", res.StatusCode, string(data))
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv, http.MethodGet, "/v0/health", nil, map[string]string{"Authorization": ""})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestSessionRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv, http.MethodGet, "/v0/session", nil, map[string]string{"Authorization": ""})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", got)
	}

	res, data = doJSON(t, srv, http.MethodGet, "/v0/session", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv, http.MethodGet, "/v0/me", nil, map[string]string{"Authorization": "", "X-Actor-Id": "legacy"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy header: %d %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "legacy" || me.Source != "legacy_header" {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestAdvanceBlockedUntilPhotoEvidence(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	startWithChecklist(t, srv)

	for _, want := range []domain.Step{domain.StepChecklistGeneration, domain.StepPhotoCapture} {
		res, data := doJSON(t, srv, http.MethodPost, "/v0/session/advance", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("advance to %s: %d %s", want, res.StatusCode, string(data))
		}
		var st domain.WorkflowState
		_ = json.Unmarshal(data, &st)
		if st.CurrentStep != want {
			t.Fatalf("expected step %s, got %s", want, st.CurrentStep)
		}
	}

	res, data := doJSON(t, srv, http.MethodPost, "/v0/session/advance", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	body := decodeError(t, data)
	if body.Code != "step_not_ready" {
		t.Fatalf("expected step_not_ready, got %q", body.Code)
	}
	if body.Details["step"] != string(domain.StepPhotoCapture) {
		t.Fatalf("expected photo_capture details, got %v", body.Details)
	}

	res, data = doJSON(t, srv, http.MethodPost, "/v0/session/checklist/smoke_detector/complete", map[string]any{"notes": "ok"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete item: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv, http.MethodPost, "/v0/session/advance", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance after evidence: %d %s", res.StatusCode, string(data))
	}
	var st domain.WorkflowState
	_ = json.Unmarshal(data, &st)
	if st.CurrentStep != domain.StepVideoWalkthrough {
		t.Fatalf("expected video_walkthrough, got %s", st.CurrentStep)
	}
}

func TestChecklistErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	startWithChecklist(t, srv)

	res, data := doJSON(t, srv, http.MethodPost, "/v0/session/checklist", map[string]any{
		"items": []map[string]any{{"id": "again", "required": true}},
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second populate, got %d %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "already_populated" {
		t.Fatalf("expected already_populated, got %q", got)
	}

	res, data = doJSON(t, srv, http.MethodPatch, "/v0/session/checklist/missing", map[string]any{"status": "completed"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv, http.MethodPost, "/v0/session/checklist/water_heater/not-applicable", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark n/a: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv, http.MethodPatch, "/v0/session/checklist/water_heater", map[string]any{"status": "pending"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on backwards transition, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv, http.MethodGet, "/v0/session/checklist", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get checklist: %d %s", res.StatusCode, string(data))
	}
	var cl ChecklistResponse
	_ = json.Unmarshal(data, &cl)
	if cl.Counters.TotalCount != 2 || cl.Counters.RequiredCount != 1 || cl.Counters.RemainingCount != 1 {
		t.Fatalf("unexpected counters %+v", cl.Counters)
	}
}

func TestMediaUploadAndSync(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	startWithChecklist(t, srv)

	res, data := doJSON(t, srv, http.MethodPost, "/v0/session/sync", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without inspection, got %d %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "no_inspection" {
		t.Fatalf("expected no_inspection, got %q", got)
	}

	res, data = doRaw(t, srv, http.MethodPost, "/v0/session/media?kind=photo&checklist_item_id=smoke_detector&filename=smoke.jpg",
		"application/octet-stream", strings.NewReader("\xff\xd8\xff\xe0fake-jpeg"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add media: %d %s", res.StatusCode, string(data))
	}
	var item domain.MediaItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal media: %v", err)
	}
	if item.UploadStatus != domain.UploadPending || item.Kind != domain.MediaPhoto {
		t.Fatalf("unexpected media item %+v", item)
	}

	res, data = doRaw(t, srv, http.MethodPost, "/v0/session/media?kind=audio", "application/octet-stream", strings.NewReader("x"), nil)
	if res.StatusCode < 400 || res.StatusCode >= 500 {
		t.Fatalf("expected client error for bad kind, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv, http.MethodGet, "/v0/session/media", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list media: %d %s", res.StatusCode, string(data))
	}
	var list MediaListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 1 || list.Counts.Pending != 1 {
		t.Fatalf("unexpected media list %+v", list)
	}

	res, data = doJSON(t, srv, http.MethodPost, "/v0/session/media/"+item.ID+"/retry", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 retrying a pending item, got %d %s", res.StatusCode, string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	startWithChecklist(t, srv)

	res, data := doJSON(t, srv, http.MethodGet, "/v0/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with a cursor, got %+v", page)
	}
	if page.Items[0].Type != "checklist.set" {
		t.Fatalf("expected newest event first, got %s", page.Items[0].Type)
	}

	res, data = doJSON(t, srv, http.MethodGet, "/v0/events?cursor=abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "dev-1"}, map[string]string{"Authorization": ""})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without dev login, got %d %s", res.StatusCode, string(data))
	}
	// authenticated callers still cannot reach an unregistered route
	res, data = doJSON(t, srv, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "dev-1"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered dev login, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, DevLogin: true})
	defer cleanup()
	res, data := doJSON(t, srv, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "dev-1"}, map[string]string{"Authorization": ""})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	res, data = doJSON(t, srv, http.MethodGet, "/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.ActorID != "dev-1" {
		t.Fatalf("expected dev-1, got %s", me.ActorID)
	}
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var got []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Fieldline-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.engine.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"checklist.set"}}}, logging.Discard())
	ctx := context.Background()
	d.DispatchAll(ctx)
	startWithChecklist(t, srv)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "checklist.set" {
		t.Fatalf("expected one checklist.set delivery, got %v", got)
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/engine"
	"taskdeck/internal/migrate"
)

type testServer struct {
	URL    string
	Client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine: eng,
		Auth: AuthConfig{
			JWTSecret:     "test-secret",
			AdminSuperKey: "super-secret",
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{
		URL:    "http://" + ln.Addr().String(),
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// doJSON performs a request and returns the status code and raw body.
func (ts *testServer) doJSON(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, out.Bytes()
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeInto[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, raw)
	}
	return v
}

func (ts *testServer) register(t *testing.T, name string, extra map[string]any) LoginResponse {
	t.Helper()
	body := map[string]any{
		"name":     name,
		"email":    name + "@example.com",
		"password": "secret123",
	}
	for k, v := range extra {
		body[k] = v
	}
	status, raw := ts.doJSON(t, http.MethodPost, "/v1/users/register", "", body)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", name, status, raw)
	}
	return decodeInto[LoginResponse](t, raw)
}

func TestHealthIsPublicEverythingElseIsNot(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.doJSON(t, http.MethodGet, "/v1/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health: status %d", status)
	}

	for _, path := range []string{"/v1/notifications", "/v1/tasks", "/v1/users/me"} {
		status, raw := ts.doJSON(t, http.MethodGet, path, "", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("%s without token: status %d body %s", path, status, raw)
		}
	}

	status, _ = ts.doJSON(t, http.MethodGet, "/v1/notifications", "not-a-jwt", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", status)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.register(t, "alice", nil)
	if alice.Token == "" {
		t.Fatalf("register returned no token")
	}
	if !alice.User.IsAdmin || alice.User.Role != "Admin" {
		t.Fatalf("first user should be admin, got %+v", alice.User)
	}

	status, raw := ts.doJSON(t, http.MethodPost, "/v1/users/register", "", map[string]any{
		"name": "alice again", "email": "alice@example.com", "password": "secret123",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate email: status %d body %s", status, raw)
	}
	env := decodeInto[errorEnvelope](t, raw)
	if env.Error.Code != "email_taken" {
		t.Fatalf("expected email_taken, got %q", env.Error.Code)
	}

	status, raw = ts.doJSON(t, http.MethodPost, "/v1/users/login", "", map[string]any{
		"email": "alice@example.com", "password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d body %s", status, raw)
	}
	env = decodeInto[errorEnvelope](t, raw)
	if env.Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", env.Error.Code)
	}

	status, raw = ts.doJSON(t, http.MethodPost, "/v1/users/login", "", map[string]any{
		"email": "alice@example.com", "password": "secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("login: status %d body %s", status, raw)
	}
	login := decodeInto[LoginResponse](t, raw)
	if login.Token == "" || login.User.ID != alice.User.ID {
		t.Fatalf("unexpected login response %+v", login)
	}

	status, raw = ts.doJSON(t, http.MethodGet, "/v1/users/me", login.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("me: status %d body %s", status, raw)
	}
	me := decodeInto[UserResponse](t, raw)
	if me.Email != "alice@example.com" {
		t.Fatalf("unexpected account %+v", me)
	}
}

func TestAdminRegistrationRequiresSuperKey(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", nil)

	status, raw := ts.doJSON(t, http.MethodPost, "/v1/users/register", "", map[string]any{
		"name": "eve", "email": "eve@example.com", "password": "secret123", "role": "Admin",
	})
	if status != http.StatusForbidden {
		t.Fatalf("admin without super key: status %d body %s", status, raw)
	}

	status, raw = ts.doJSON(t, http.MethodPost, "/v1/users/register", "", map[string]any{
		"name": "mallory", "email": "mallory@example.com", "password": "secret123",
		"role": "Admin", "super_key": "wrong",
	})
	if status != http.StatusForbidden {
		t.Fatalf("admin with wrong super key: status %d body %s", status, raw)
	}

	status, raw = ts.doJSON(t, http.MethodPost, "/v1/users/register", "", map[string]any{
		"name": "bob", "email": "bob@example.com", "password": "secret123",
		"role": "Admin", "super_key": "super-secret",
	})
	if status != http.StatusCreated {
		t.Fatalf("admin with super key: status %d body %s", status, raw)
	}
	bob := decodeInto[LoginResponse](t, raw)
	if !bob.User.IsAdmin {
		t.Fatalf("expected admin account, got %+v", bob.User)
	}
}

func TestNotificationFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice", nil)
	bob := ts.register(t, "bob", nil)

	for i := 0; i < 2; i++ {
		status, raw := ts.doJSON(t, http.MethodPost, "/v1/notifications/system", alice.Token, map[string]any{
			"kind": "announcement",
			"text": fmt.Sprintf("All hands meeting %d", i),
		})
		if status != http.StatusCreated {
			t.Fatalf("broadcast: status %d body %s", status, raw)
		}
	}

	status, raw := ts.doJSON(t, http.MethodGet, "/v1/notifications", bob.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list: status %d body %s", status, raw)
	}
	feed := decodeInto[[]NotificationResponse](t, raw)
	if len(feed) != 2 {
		t.Fatalf("expected 2 notifications for bob, got %d", len(feed))
	}

	status, raw = ts.doJSON(t, http.MethodPut, "/v1/notifications/read/"+feed[0].ID, bob.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("mark read: status %d body %s", status, raw)
	}
	marked := decodeInto[NotificationResponse](t, raw)
	found := false
	for _, id := range marked.ReadBy {
		if id == bob.User.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("read_by missing bob: %v", marked.ReadBy)
	}

	status, raw = ts.doJSON(t, http.MethodPut, "/v1/notifications/read/"+feed[0].ID, bob.Token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("second mark: status %d body %s", status, raw)
	}
	env := decodeInto[errorEnvelope](t, raw)
	if env.Error.Code != "already_read" {
		t.Fatalf("expected already_read, got %q", env.Error.Code)
	}

	status, _ = ts.doJSON(t, http.MethodPut, "/v1/notifications/read/no-such-id", bob.Token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown id: status %d", status)
	}

	status, raw = ts.doJSON(t, http.MethodPut, "/v1/notifications/read-all", bob.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("read-all: status %d body %s", status, raw)
	}
	bulk := decodeInto[MarkAllReadResponse](t, raw)
	if bulk.Marked != 1 {
		t.Fatalf("expected 1 newly marked, got %d", bulk.Marked)
	}

	// Deleting removes the notification for alice too.
	status, raw = ts.doJSON(t, http.MethodDelete, "/v1/notifications/"+feed[0].ID, bob.Token, nil)
	if status != http.StatusOK && status != http.StatusNoContent {
		t.Fatalf("delete: status %d body %s", status, raw)
	}
	status, raw = ts.doJSON(t, http.MethodGet, "/v1/notifications", alice.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("alice list: status %d", status)
	}
	for _, n := range decodeInto[[]NotificationResponse](t, raw) {
		if n.ID == feed[0].ID {
			t.Fatalf("deleted notification still visible to alice")
		}
	}
}

func TestSystemBroadcastRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", nil)
	bob := ts.register(t, "bob", nil)

	status, raw := ts.doJSON(t, http.MethodPost, "/v1/notifications/system", bob.Token, map[string]any{
		"kind": "announcement", "text": "I am in charge now",
	})
	if status != http.StatusForbidden {
		t.Fatalf("non-admin broadcast: status %d body %s", status, raw)
	}
	env := decodeInto[errorEnvelope](t, raw)
	if env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %q", env.Error.Code)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice", nil)
	bob := ts.register(t, "bob", nil)

	status, raw := ts.doJSON(t, http.MethodPost, "/v1/tasks", alice.Token, map[string]any{
		"title": "Ship it", "priority": "high",
		"team": []string{alice.User.ID, bob.User.ID},
	})
	if status != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", status, raw)
	}
	task := decodeInto[TaskResponse](t, raw)
	if task.Stage != "todo" || task.Priority != "high" {
		t.Fatalf("unexpected task %+v", task)
	}

	status, raw = ts.doJSON(t, http.MethodPost, "/v1/tasks", alice.Token, map[string]any{
		"title": "", "team": []string{alice.User.ID},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("empty title: status %d body %s", status, raw)
	}

	// Bob is on the team and sees the task without being an admin.
	status, raw = ts.doJSON(t, http.MethodGet, "/v1/tasks", bob.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("bob list: status %d", status)
	}
	if got := decodeInto[[]TaskResponse](t, raw); len(got) != 1 {
		t.Fatalf("bob: expected 1 task, got %d", len(got))
	}

	status, raw = ts.doJSON(t, http.MethodPatch, "/v1/tasks/"+task.ID, alice.Token, map[string]any{
		"stage": "completed",
	})
	if status != http.StatusOK {
		t.Fatalf("update: status %d body %s", status, raw)
	}
	if got := decodeInto[TaskResponse](t, raw); got.Stage != "completed" {
		t.Fatalf("stage not updated: %+v", got)
	}

	status, raw = ts.doJSON(t, http.MethodDelete, "/v1/tasks/"+task.ID, alice.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("trash: status %d body %s", status, raw)
	}
	if got := decodeInto[TaskResponse](t, raw); !got.IsTrashed {
		t.Fatalf("task not trashed: %+v", got)
	}

	status, raw = ts.doJSON(t, http.MethodPut, "/v1/tasks/"+task.ID+"/restore", alice.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("restore: status %d body %s", status, raw)
	}
	status, raw = ts.doJSON(t, http.MethodPut, "/v1/tasks/"+task.ID+"/restore", alice.Token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("restore of live task: status %d body %s", status, raw)
	}

	status, _ = ts.doJSON(t, http.MethodGet, "/v1/tasks/no-such-task", alice.Token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown task: status %d", status)
	}
}

func TestEventsEndpointIsAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice", nil)
	bob := ts.register(t, "bob", nil)

	status, _ := ts.doJSON(t, http.MethodGet, "/v1/events", bob.Token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("non-admin events: status %d", status)
	}

	status, raw := ts.doJSON(t, http.MethodGet, "/v1/events?type=user.registered", alice.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("events: status %d body %s", status, raw)
	}
	events := decodeInto[[]EventResponse](t, raw)
	if len(events) != 2 {
		t.Fatalf("expected 2 user.registered events, got %d", len(events))
	}
}

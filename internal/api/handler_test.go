package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/veristep/viva/internal/session"
	"github.com/veristep/viva/internal/storage"
	"github.com/veristep/viva/internal/transport"
)

const testToken = "test-token"

func newTestApp(t *testing.T, search *mockSearcher) (*httptest.Server, *storage.Store, *session.Registry) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := session.NewRegistry()
	handler := NewAppHandler(AppDeps{
		Store:    store,
		Registry: registry,
		Search:   search,
		Token:    testToken,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store, registry
}

func doJSON(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func createTestSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", testDescriptor(t))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("no session id in response: %v", body)
	}
	return id
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _ := newTestApp(t, &mockSearcher{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionsRejectBadToken(t *testing.T) {
	srv, _, _ := newTestApp(t, &mockSearcher{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/sessions", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateSessionReturnsInstructions(t *testing.T) {
	srv, store, registry := newTestApp(t, &mockSearcher{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", testDescriptor(t))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body := decodeBody(t, resp)

	if body["state"] != "ACTIVE" {
		t.Errorf("state = %v, want ACTIVE", body["state"])
	}
	instructions, _ := body["instructions"].(string)
	if !strings.Contains(instructions, "VISA TYPE: F-1") {
		t.Errorf("instructions missing visa context: %.120s", instructions)
	}
	if body["config_error"] != "" {
		t.Errorf("config_error = %v, want empty", body["config_error"])
	}

	id := body["id"].(string)
	if registry.Get(id) == nil {
		t.Error("session not registered")
	}
	rec, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.VisaCode != "F-1" || rec.UserPartition != "applicant-42" {
		t.Errorf("persisted record = %+v", rec)
	}
}

func TestCreateSessionDegradesOnMalformedDescriptor(t *testing.T) {
	srv, _, _ := newTestApp(t, &mockSearcher{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", []byte("this is not json"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 even for garbage", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["config_error"] == "" {
		t.Error("expected a recorded config error")
	}
	instructions, _ := body["instructions"].(string)
	if !strings.Contains(instructions, "NO DOCUMENTS UPLOADED") {
		t.Errorf("degraded instructions missing skepticism block: %.120s", instructions)
	}
}

func TestGetSessionLiveAndMissing(t *testing.T) {
	srv, _, _ := newTestApp(t, &mockSearcher{})
	id := createTestSession(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["state"] != "ACTIVE" || body["visa_code"] != "F-1" {
		t.Errorf("body = %v", body)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/sessions/absent", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadDocumentsEnqueuesJob(t *testing.T) {
	srv, store, _ := newTestApp(t, &mockSearcher{})
	id := createTestSession(t, srv)

	body := []byte(`{"documents":[{"internal_name":"passport","friendly_name":"Passport","path":"/tmp/passport.pdf"}]}`)
	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/documents", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	job, err := store.ClaimNextJob([]string{"document_upload"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no job enqueued")
	}
	if !strings.Contains(job.PayloadJSON, `"partition":"applicant-42"`) {
		t.Errorf("payload missing partition: %s", job.PayloadJSON)
	}
}

func TestUploadDocumentsRejectsWithoutPartition(t *testing.T) {
	srv, _, _ := newTestApp(t, &mockSearcher{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", []byte(`{"visaCode":"B-2"}`))
	body := decodeBody(t, resp)
	id := body["id"].(string)

	upload := []byte(`{"documents":[{"internal_name":"passport","path":"/tmp/p.txt"}]}`)
	resp = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/documents", upload)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestDeleteSessionRemovesAndPersists(t *testing.T) {
	srv, store, registry := newTestApp(t, &mockSearcher{})
	id := createTestSession(t, srv)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if registry.Get(id) != nil {
		t.Error("session still registered after delete")
	}

	rec, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.State != "TERMINATED" {
		t.Errorf("state = %q, want TERMINATED", rec.State)
	}
	if rec.EndedAt.IsZero() {
		t.Error("ended_at not stamped")
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want 404", resp.StatusCode)
	}
}

func TestChannelDrivesSessionLifecycle(t *testing.T) {
	srv, store, registry := newTestApp(t, &mockSearcher{})
	id := createTestSession(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/channel"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testToken}},
	})
	if err != nil {
		t.Fatalf("dialing channel: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The greeting turn arrives first.
	var greeting transport.Message
	if err := wsjson.Read(ctx, conn, &greeting); err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if greeting.Type != "greeting" || !strings.Contains(greeting.Instruction, "F-1") {
		t.Errorf("greeting = %+v", greeting)
	}

	// 82% of a 20 minute session lands in the wrap-up window.
	if err := wsjson.Write(ctx, conn, transport.Message{Type: "time_update", Elapsed: 984}); err != nil {
		t.Fatalf("writing time_update: %v", err)
	}
	var wrapUp transport.Message
	if err := wsjson.Read(ctx, conn, &wrapUp); err != nil {
		t.Fatalf("reading wrap_up: %v", err)
	}
	if wrapUp.Type != "wrap_up" {
		t.Errorf("event = %+v, want wrap_up", wrapUp)
	}

	// The goodbye event advances the termination machine and persists.
	if err := wsjson.Write(ctx, conn, transport.Message{Type: "goodbye"}); err != nil {
		t.Fatalf("writing goodbye: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sess := registry.Get(id)
		if sess != nil && sess.Controller.State() == session.StateGoodbyeIssued {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("goodbye never reached the controller")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.State != "GOODBYE_ISSUED" {
		t.Errorf("persisted state = %q, want GOODBYE_ISSUED", rec.State)
	}
}

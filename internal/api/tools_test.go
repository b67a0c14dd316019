package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/veristep/viva/internal/retrieval"
	"github.com/veristep/viva/internal/session"
	"github.com/veristep/viva/internal/storage"
)

// --- mocks ---

type mockSearcher struct {
	mu      sync.Mutex
	queries []retrieval.Query
	chunks  []retrieval.ScoredChunk
	err     error
}

func (m *mockSearcher) Retrieve(_ context.Context, q retrieval.Query) ([]retrieval.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	return m.chunks, m.err
}

type mockTransport struct {
	mu           sync.Mutex
	greetings    []string
	events       []string
	disconnected int
}

func (m *mockTransport) Greet(_ context.Context, instruction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.greetings = append(m.greetings, instruction)
	return nil
}

func (m *mockTransport) Notify(_ context.Context, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockTransport) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected++
	return nil
}

// --- helpers ---

func testDescriptor(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"visaCode":        "F-1",
		"visaName":        "Student Visa",
		"durationMinutes": 20,
		"questionBank": []string{
			"How will you fund your studies?",
			"What program will you attend?",
		},
		"uploadedDocuments": []map[string]any{
			{"internalName": "bank_statement", "friendlyName": "Bank Statement", "isRequired": true},
		},
		"retrievalPartitions": map[string]string{
			"user":   "applicant-42",
			"global": "visa-student",
		},
	})
	if err != nil {
		t.Fatalf("marshaling descriptor: %v", err)
	}
	return payload
}

func newTestToolDeps(t *testing.T, search *mockSearcher) (ToolDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sess := session.New("sess-1", testDescriptor(t), session.Deps{
		Search:    search,
		Transport: &mockTransport{},
	})
	if err := store.CreateSession(storage.SessionRecord{ID: sess.ID, CreatedAt: sess.CreatedAt}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	return ToolDeps{Session: sess, Store: store}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestTool_GetRelevantQuestions(t *testing.T) {
	deps, store := newTestToolDeps(t, &mockSearcher{})
	handler := toolGetRelevantQuestions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("getRelevantQuestions", map[string]interface{}{
		"topic": "financial",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "How will you fund your studies?") {
		t.Errorf("expected the funding question, got: %s", text)
	}

	calls, err := store.ListToolCalls("sess-1", 10)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(calls) != 1 || calls[0].Tool != "getRelevantQuestions" {
		t.Errorf("audit log = %+v", calls)
	}
}

func TestTool_GetRelevantQuestions_MissingTopic(t *testing.T) {
	deps, _ := newTestToolDeps(t, &mockSearcher{})
	handler := toolGetRelevantQuestions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("getRelevantQuestions", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler must not raise: %v", err)
	}
	if !result.IsError {
		t.Error("expected an argument error result")
	}
}

func TestTool_LookupUserDocuments_ScopesToHints(t *testing.T) {
	search := &mockSearcher{
		chunks: []retrieval.ScoredChunk{
			{SourceLabel: "Bank Statement", Text: "Closing balance $42,000.", Score: 0.9},
		},
	}
	deps, _ := newTestToolDeps(t, search)
	handler := toolLookupUserDocuments(deps)

	result, err := handler(context.Background(), makeCallToolRequest("lookupUserDocuments", map[string]interface{}{
		"question":       "applicant claims $42k in savings",
		"document_types": []string{"bank_statement"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := toolText(t, result)
	if !strings.Contains(text, "Closing balance $42,000.") {
		t.Errorf("expected evidence in response, got: %s", text)
	}

	if len(search.queries) != 1 {
		t.Fatalf("expected 1 retrieval query, got %d", len(search.queries))
	}
	q := search.queries[0]
	if q.Partition != "applicant-42" {
		t.Errorf("partition = %q, want applicant-42", q.Partition)
	}
	if q.Filter == nil || len(q.Filter.DocumentInternalName.In) != 1 || q.Filter.DocumentInternalName.In[0] != "bank_statement" {
		t.Errorf("filter = %+v", q.Filter)
	}
}

func TestTool_LookupUserDocuments_BackendFailureIsAdvisory(t *testing.T) {
	search := &mockSearcher{err: errors.New("connection refused")}
	deps, _ := newTestToolDeps(t, search)
	handler := toolLookupUserDocuments(deps)

	result, err := handler(context.Background(), makeCallToolRequest("lookupUserDocuments", map[string]interface{}{
		"question": "anything",
	}))
	if err != nil {
		t.Fatalf("handler must not raise: %v", err)
	}
	if result.IsError {
		t.Error("backend failure must not surface as a tool error")
	}
	if !strings.Contains(toolText(t, result), "Unable to access documents right now") {
		t.Errorf("expected the advisory outcome, got: %s", toolText(t, result))
	}
}

func TestTool_LookupReferenceDocuments(t *testing.T) {
	search := &mockSearcher{
		chunks: []retrieval.ScoredChunk{
			{SourceLabel: "F-1 Guidelines", Text: "Applicants must show nonimmigrant intent.", Score: 0.8},
		},
	}
	deps, _ := newTestToolDeps(t, search)
	handler := toolLookupReferenceDocuments(deps)

	result, err := handler(context.Background(), makeCallToolRequest("lookupReferenceDocuments", map[string]interface{}{
		"question": "what intent must applicants show",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := toolText(t, result)
	if !strings.Contains(text, "Visa regulations and requirements:") {
		t.Errorf("expected the reference prefix, got: %s", text)
	}

	if len(search.queries) != 1 {
		t.Fatalf("expected 1 retrieval query, got %d", len(search.queries))
	}
	if got := search.queries[0].Partition; got != "visa-student" {
		t.Errorf("partition = %q, want visa-student", got)
	}
}

func TestTool_EndInterview(t *testing.T) {
	deps, store := newTestToolDeps(t, &mockSearcher{})
	handler := toolEndInterview(deps)

	result, err := handler(context.Background(), makeCallToolRequest("endInterview", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "Interview session ended." {
		t.Errorf("outcome = %q", got)
	}
	if got := deps.Session.Controller.State(); got != session.StateTerminated {
		t.Errorf("state = %q, want TERMINATED", got)
	}

	rec, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.State != "TERMINATED" {
		t.Errorf("persisted state = %q, want TERMINATED", rec.State)
	}

	// Repeat calls stay idempotent.
	again, err := handler(context.Background(), makeCallToolRequest("endInterview", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, again); got != "Interview session ended." {
		t.Errorf("repeat outcome = %q", got)
	}
}

func TestToolServer_RegistersAllTools(t *testing.T) {
	deps, _ := newTestToolDeps(t, &mockSearcher{})
	if s := NewToolServer(deps); s == nil {
		t.Fatal("NewToolServer returned nil")
	}
}

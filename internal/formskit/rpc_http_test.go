package formskit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	forms "google.golang.org/api/forms/v1"
)

// stubFormsBackend answers upstream calls from canned data so dispatcher tests
// never touch the network.
type stubFormsBackend struct {
	authorizedUsers map[string]bool
	summary         FormSummary
	responses       []*forms.FormResponse
	upstreamErr     error
	lastFormID      string
	lastMaxResults  int64
}

func (backend *stubFormsBackend) GetForm(ctx context.Context, userID string, formID string) (FormSummary, error) {
	if !backend.authorizedUsers[userID] {
		return FormSummary{}, fmt.Errorf("token source: %w", ErrNotAuthorized)
	}
	if backend.upstreamErr != nil {
		return FormSummary{}, backend.upstreamErr
	}
	backend.lastFormID = formID
	return backend.summary, nil
}

func (backend *stubFormsBackend) ListResponses(ctx context.Context, userID string, formID string, maxResults int64) ([]*forms.FormResponse, error) {
	if !backend.authorizedUsers[userID] {
		return nil, fmt.Errorf("token source: %w", ErrNotAuthorized)
	}
	if backend.upstreamErr != nil {
		return nil, backend.upstreamErr
	}
	backend.lastFormID = formID
	backend.lastMaxResults = maxResults
	return backend.responses, nil
}

func newRPCRouter(t *testing.T, backend FormsBackend, metrics MetricsRecorder) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	dispatcher := NewRPCDispatcher(testServiceConfig(), backend, metrics, zaptest.NewLogger(t))
	dispatcher.Mount(router)
	return router
}

func postRPC(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) RPCResponse {
	t.Helper()
	var response RPCResponse
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &response); decodeErr != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), decodeErr)
	}
	return response
}

func TestInitializeAdvertisesServerInfo(t *testing.T) {
	router := newRPCRouter(t, &stubFormsBackend{}, nil)

	recorder := postRPC(t, router, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var envelope struct {
		Result struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
		} `json:"result"`
		ID json.RawMessage `json:"id"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &envelope); decodeErr != nil {
		t.Fatalf("decode error: %v", decodeErr)
	}
	if envelope.Result.ServerInfo.Name != "Multi-User Google Forms MCP" {
		t.Fatalf("unexpected server name %q", envelope.Result.ServerInfo.Name)
	}
	if envelope.Result.ServerInfo.Version != "0.1.0" {
		t.Fatalf("unexpected server version %q", envelope.Result.ServerInfo.Version)
	}
	if string(envelope.ID) != "1" {
		t.Fatalf("expected id echoed back, got %s", envelope.ID)
	}
}

func TestToolsListCatalog(t *testing.T) {
	router := newRPCRouter(t, &stubFormsBackend{}, nil)

	recorder := postRPC(t, router, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var envelope struct {
		Result struct {
			Tools []ToolDescriptor `json:"tools"`
		} `json:"result"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &envelope); decodeErr != nil {
		t.Fatalf("decode error: %v", decodeErr)
	}
	if len(envelope.Result.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(envelope.Result.Tools))
	}
	if envelope.Result.Tools[0].Name != "forms.get_form" || envelope.Result.Tools[1].Name != "forms.list_responses" {
		t.Fatalf("unexpected catalog order: %s, %s", envelope.Result.Tools[0].Name, envelope.Result.Tools[1].Name)
	}
	for _, descriptor := range envelope.Result.Tools {
		required, ok := descriptor.InputSchema["required"].([]any)
		if !ok || len(required) != 1 || required[0] != "form_id" {
			t.Fatalf("tool %s must require form_id, schema: %+v", descriptor.Name, descriptor.InputSchema)
		}
	}
}

func TestUnknownMethodIsRejected(t *testing.T) {
	metrics := NewCounterMetrics()
	router := newRPCRouter(t, &stubFormsBackend{}, metrics)

	recorder := postRPC(t, router, `{"jsonrpc":"2.0","id":3,"method":"foo"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || response.Error.Code != -32601 {
		t.Fatalf("expected -32601, got %+v", response.Error)
	}
	if metrics.Count("rpc.method_not_found") != 1 {
		t.Fatalf("expected method_not_found counted once")
	}
}

func TestUnknownToolFallsThroughToMethodNotFound(t *testing.T) {
	router := newRPCRouter(t, &stubFormsBackend{authorizedUsers: map[string]bool{"alice": true}}, nil)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"forms.delete_form","arguments":{}},"meta":{"user_id":"alice"}}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tool, got %d", recorder.Code)
	}
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || response.Error.Code != -32601 {
		t.Fatalf("expected -32601, got %+v", response.Error)
	}
}

func TestParseErrorIsRejected(t *testing.T) {
	metrics := NewCounterMetrics()
	router := newRPCRouter(t, &stubFormsBackend{}, metrics)

	recorder := postRPC(t, router, `{not json`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || response.Error.Code != -32700 {
		t.Fatalf("expected -32700, got %+v", response.Error)
	}
	if metrics.Count("rpc.parse_error") != 1 {
		t.Fatalf("expected parse_error counted once")
	}
}

func TestToolCallRequiresAuthorization(t *testing.T) {
	metrics := NewCounterMetrics()
	router := newRPCRouter(t, &stubFormsBackend{}, metrics)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"forms.get_form","arguments":{"form_id":"f1"}},"meta":{"user_id":"alice"}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("authorization failures stay HTTP 200, got %d", recorder.Code)
	}
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || response.Error.Code != 401 {
		t.Fatalf("expected code 401 in envelope, got %+v", response.Error)
	}
	expected := "Google Forms not connected for user 'alice'. Visit http://forms.example.com/auth/google?user_id=alice"
	if response.Error.Message != expected {
		t.Fatalf("unexpected message:\n got %q\nwant %q", response.Error.Message, expected)
	}
	if metrics.Count("rpc.auth_required") != 1 {
		t.Fatalf("expected auth_required counted once")
	}
}

func TestToolCallDefaultsMissingUser(t *testing.T) {
	router := newRPCRouter(t, &stubFormsBackend{}, nil)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"forms.get_form","arguments":{"form_id":"f1"}}}`)
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || !strings.Contains(response.Error.Message, "user 'default'") {
		t.Fatalf("expected sentinel user in message, got %+v", response.Error)
	}
}

func TestToolCallMissingFormID(t *testing.T) {
	metrics := NewCounterMetrics()
	router := newRPCRouter(t, &stubFormsBackend{authorizedUsers: map[string]bool{"alice": true}}, metrics)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"forms.get_form","arguments":{}},"meta":{"user_id":"alice"}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("invalid params stay HTTP 200, got %d", recorder.Code)
	}
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || response.Error.Code != -32602 {
		t.Fatalf("expected -32602, got %+v", response.Error)
	}
	if !strings.Contains(response.Error.Message, "form_id is required") {
		t.Fatalf("unexpected message %q", response.Error.Message)
	}
	if metrics.Count("rpc.invalid_params") != 1 {
		t.Fatalf("expected invalid_params counted once")
	}
}

func TestGetFormReturnsSummaryContent(t *testing.T) {
	backend := &stubFormsBackend{
		authorizedUsers: map[string]bool{"alice": true},
		summary:         FormSummary{FormID: "f1", Title: "Survey", DocumentTitle: "Q3 Survey"},
	}
	router := newRPCRouter(t, backend, nil)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"forms.get_form","arguments":{"form_id":"f1"}},"meta":{"user_id":"alice"}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var envelope struct {
		Result struct {
			Content []struct {
				Type string          `json:"type"`
				JSON json.RawMessage `json:"json"`
			} `json:"content"`
		} `json:"result"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &envelope); decodeErr != nil {
		t.Fatalf("decode error: %v", decodeErr)
	}
	if len(envelope.Result.Content) != 1 || envelope.Result.Content[0].Type != "json" {
		t.Fatalf("unexpected content shape: %+v", envelope.Result.Content)
	}
	var summary FormSummary
	if decodeErr := json.Unmarshal(envelope.Result.Content[0].JSON, &summary); decodeErr != nil {
		t.Fatalf("summary decode error: %v", decodeErr)
	}
	if summary != backend.summary {
		t.Fatalf("summary mismatch: %+v", summary)
	}
	if backend.lastFormID != "f1" {
		t.Fatalf("expected form id forwarded, got %q", backend.lastFormID)
	}
}

func TestListResponsesDefaultsMaxResults(t *testing.T) {
	backend := &stubFormsBackend{
		authorizedUsers: map[string]bool{"alice": true},
		responses:       []*forms.FormResponse{{ResponseId: "r1"}},
	}
	router := newRPCRouter(t, backend, nil)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"forms.list_responses","arguments":{"form_id":"f1"}},"meta":{"user_id":"alice"}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if backend.lastMaxResults != DefaultMaxResults {
		t.Fatalf("expected default max_results %d, got %d", DefaultMaxResults, backend.lastMaxResults)
	}
}

func TestListResponsesForwardsMaxResults(t *testing.T) {
	backend := &stubFormsBackend{authorizedUsers: map[string]bool{"alice": true}}
	router := newRPCRouter(t, backend, nil)

	postRPC(t, router,
		`{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"forms.list_responses","arguments":{"form_id":"f1","max_results":25}},"meta":{"user_id":"alice"}}`)
	if backend.lastMaxResults != 25 {
		t.Fatalf("expected max_results 25 forwarded, got %d", backend.lastMaxResults)
	}
}

func TestListResponsesNilBecomesEmptyArray(t *testing.T) {
	backend := &stubFormsBackend{authorizedUsers: map[string]bool{"alice": true}, responses: nil}
	router := newRPCRouter(t, backend, nil)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"forms.list_responses","arguments":{"form_id":"f1"}},"meta":{"user_id":"alice"}}`)

	var envelope struct {
		Result struct {
			Content []struct {
				JSON json.RawMessage `json:"json"`
			} `json:"content"`
		} `json:"result"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &envelope); decodeErr != nil {
		t.Fatalf("decode error: %v", decodeErr)
	}
	if string(envelope.Result.Content[0].JSON) != "[]" {
		t.Fatalf("expected empty array payload, got %s", envelope.Result.Content[0].JSON)
	}
}

func TestUpstreamFailureStaysInEnvelope(t *testing.T) {
	metrics := NewCounterMetrics()
	backend := &stubFormsBackend{
		authorizedUsers: map[string]bool{"alice": true},
		upstreamErr:     fmt.Errorf("get form: %w: googleapi 404", ErrUpstreamCall),
	}
	router := newRPCRouter(t, backend, metrics)

	recorder := postRPC(t, router,
		`{"jsonrpc":"2.0","id":12,"method":"tools/call","params":{"name":"forms.get_form","arguments":{"form_id":"gone"}},"meta":{"user_id":"alice"}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("upstream failures stay HTTP 200, got %d", recorder.Code)
	}
	response := decodeRPCResponse(t, recorder)
	if response.Error == nil || response.Error.Code != -32000 {
		t.Fatalf("expected -32000, got %+v", response.Error)
	}
	if metrics.Count("rpc.upstream_error") != 1 {
		t.Fatalf("expected upstream_error counted once")
	}
}

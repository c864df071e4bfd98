package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/engine"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/prompt"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
)

const testKey = "test-api-key"

func newTestServer(t *testing.T, responses ...llm.MockResponse) (*httptest.Server, *session.MemoryStore) {
	t.Helper()

	store := session.NewMemoryStore()
	client := llm.NewMockClient(responses...)
	eng := engine.New(store, client, prompt.New("test persona", 0, 0), "test-model", 256)

	srv := New(eng, store,
		WithAPIKeys([]string{testKey}),
		WithVapiSecret("vapi-secret"),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return resp, decoded
}

func authed() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testKey}
}

func TestChatFlow(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "I found three listings."})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "show me condos"}, authed())

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["response"] != "I found three listings." {
		t.Errorf("response = %v, want model reply", body["response"])
	}
	if body["status"] != "success" {
		t.Errorf("status field = %v, want %q", body["status"], "success")
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("response has no session_id")
	}

	// Second turn on the returned ID continues the same session.
	resp2, body2 := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "any with a garden?", "session_id": sessionID}, authed())
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("second turn status = %d, want 200", resp2.StatusCode)
	}
	if body2["session_id"] != sessionID {
		t.Errorf("second turn session_id = %v, want %q", body2["session_id"], sessionID)
	}
}

func TestChatRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "no header", headers: nil},
		{name: "wrong key", headers: map[string]string{"Authorization": "Bearer wrong"}},
		{name: "malformed header", headers: map[string]string{"Authorization": "Basic abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, ts.URL+"/chat",
				map[string]string{"message": "hi"}, tt.headers)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestChatEmptyMessage(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "   "}, authed())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Error: errors.New("model unavailable")})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "hi"}, authed())
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if body["error"] != "upstream_error" {
		t.Errorf("error code = %v, want %q", body["error"], "upstream_error")
	}
	if _, ok := body["response"]; ok {
		t.Error("failed turn must not carry a synthetic reply")
	}
}

func TestVapiWebhook(t *testing.T) {
	ts, store := newTestServer(t, llm.MockResponse{Content: "Happy to help with that."})

	headers := map[string]string{"X-Vapi-Secret": "vapi-secret"}
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/vapi/webhook", map[string]any{
		"session_id":   "call_123",
		"user_message": "what is the asking price",
		"context":      map[string]any{"caller": "+15551234"},
	}, headers)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["session_id"] != "call_123" {
		t.Errorf("session_id = %v, want %q", body["session_id"], "call_123")
	}

	sess, err := store.Get(context.Background(), "call_123")
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if sess.Metadata["caller"] != "+15551234" {
		t.Errorf("Metadata[\"caller\"] = %v, want %q", sess.Metadata["caller"], "+15551234")
	}
}

func TestVapiWebhookRequiresSessionID(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	headers := map[string]string{"X-Vapi-Secret": "vapi-secret"}
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/vapi/webhook",
		map[string]string{"user_message": "hi"}, headers)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "invalid_request" {
		t.Errorf("error code = %v, want %q", body["error"], "invalid_request")
	}
}

func TestVapiWebhookRejectsBadSecret(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	headers := map[string]string{"X-Vapi-Secret": "wrong"}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/vapi/webhook", map[string]string{
		"session_id":   "call_x",
		"user_message": "hi",
	}, headers)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetSessionHistory(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "first reply"})

	_, body := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "first question"}, authed())
	sessionID := body["session_id"].(string)

	resp, got := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sessionID, nil, authed())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got["session_id"] != sessionID {
		t.Errorf("session_id = %v, want %q", got["session_id"], sessionID)
	}

	messages, ok := got["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %v, want 2 entries", got["messages"])
	}
	first := messages[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "first question" {
		t.Errorf("messages[0] = %v, want user %q", first, "first question")
	}
	second := messages[1].(map[string]any)
	if second["role"] != "assistant" || second["content"] != "first reply" {
		t.Errorf("messages[1] = %v, want assistant %q", second, "first reply")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/sessions/sess_missing", nil, authed())
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if body["error"] != "not_found" {
		t.Errorf("error code = %v, want %q", body["error"], "not_found")
	}
}

func TestDeleteSession(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	_, body := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "hi"}, authed())
	sessionID := body["session_id"].(string)

	resp, got := doJSON(t, http.MethodDelete, ts.URL+"/sessions/"+sessionID, nil, authed())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got["message"] != "Session deleted successfully" {
		t.Errorf("message = %v, want deletion confirmation", got["message"])
	}

	resp2, _ := doJSON(t, http.MethodDelete, ts.URL+"/sessions/"+sessionID, nil, authed())
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp2.StatusCode)
	}
}

func TestHealthzNoAuth(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want %q", body["status"], "healthy")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts, _ := newTestServer(t, llm.MockResponse{Content: "reply"})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want %q", got, "req-42")
	}
}

func TestNoAuthMode(t *testing.T) {
	store := session.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	eng := engine.New(store, client, prompt.New("p", 0, 0), "test-model", 256)
	srv := New(eng, store, WithNoAuth(true))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/chat",
		map[string]string{"message": "hi"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", resp.StatusCode)
	}
}

func TestChatMultipleKeys(t *testing.T) {
	store := session.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	eng := engine.New(store, client, prompt.New("p", 0, 0), "test-model", 256)
	srv := New(eng, store, WithAPIKeys([]string{"key-one", "key-two"}))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	for _, key := range []string{"key-one", "key-two"} {
		headers := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", key)}
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/chat",
			map[string]string{"message": "hi"}, headers)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("key %q: status = %d, want 200", key, resp.StatusCode)
		}
	}
}

package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	svc, local := newTestService()
	t.Cleanup(func() { local.Close() })
	return NewHTTPServer(svc, "*")
}

func doJSON(t *testing.T, server *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)
	rr := doJSON(t, server, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestReadyWithoutBackends(t *testing.T) {
	server := newTestServer(t)
	rr := doJSON(t, server, http.MethodGet, "/api/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRoomAndOperationFlow(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/rooms", `{"room_id":"doc1","creator_id":"alice"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create room: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/operations", `{"room_id":"doc1","user_id":"alice","operation_type":"insert","position":0,"text":"Hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("operation: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var result OperationResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if result.DocumentVersion != 1 {
		t.Fatalf("version = %d, want 1", result.DocumentVersion)
	}
	if result.Operation.VectorClock["alice"] != 1 {
		t.Fatalf("vector clock = %v, want alice:1", result.Operation.VectorClock)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/rooms/doc1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get room: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var state map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("parse room state: %v", err)
	}
	if state["document_content"] != "Hello" {
		t.Fatalf("content = %v, want Hello", state["document_content"])
	}
}

func TestErrorContract(t *testing.T) {
	server := newTestServer(t)

	if rr := doJSON(t, server, http.MethodPost, "/api/rooms", `{"room_id":"doc1","creator_id":"alice"}`); rr.Code != http.StatusCreated {
		t.Fatalf("create room failed: %d", rr.Code)
	}

	cases := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "duplicate room", method: http.MethodPost, path: "/api/rooms", body: `{"room_id":"doc1","creator_id":"bob"}`, wantCode: http.StatusConflict, wantErr: "DUPLICATE_ROOM"},
		{name: "join missing room", method: http.MethodPost, path: "/api/rooms/join", body: `{"room_id":"ghost","user_id":"bob"}`, wantCode: http.StatusNotFound, wantErr: "ROOM_NOT_FOUND"},
		{name: "op out of bounds", method: http.MethodPost, path: "/api/operations", body: `{"room_id":"doc1","user_id":"alice","operation_type":"insert","position":50,"text":"x"}`, wantCode: http.StatusBadRequest, wantErr: "INVALID_OPERATION"},
		{name: "op from non-participant", method: http.MethodPost, path: "/api/operations", body: `{"room_id":"doc1","user_id":"mallory","operation_type":"insert","position":0,"text":"x"}`, wantCode: http.StatusForbidden, wantErr: "NOT_PARTICIPANT"},
		{name: "op missing user", method: http.MethodPost, path: "/api/operations", body: `{"room_id":"doc1","operation_type":"insert","position":0,"text":"x"}`, wantCode: http.StatusBadRequest, wantErr: "VALIDATION"},
		{name: "bad presence status", method: http.MethodPost, path: "/api/presence", body: `{"user_id":"alice","status":"lurking"}`, wantCode: http.StatusBadRequest, wantErr: "INVALID_STATUS"},
		{name: "bad typing action", method: http.MethodPost, path: "/api/typing", body: `{"user_id":"alice","room_id":"doc1","action":"hover"}`, wantCode: http.StatusBadRequest, wantErr: "INVALID_ACTION"},
		{name: "malformed json", method: http.MethodPost, path: "/api/rooms", body: `{"room_id":`, wantCode: http.StatusBadRequest, wantErr: "BAD_JSON"},
		{name: "unknown route", method: http.MethodPost, path: "/api/unknown", body: `{}`, wantCode: http.StatusNotFound, wantErr: "NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, server, tc.method, tc.path, tc.body)
			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tc.wantCode, rr.Body.String())
			}
			var payload map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("parse error body: %v", err)
			}
			if payload["code"] != tc.wantErr {
				t.Fatalf("error code = %v, want %s", payload["code"], tc.wantErr)
			}
		})
	}
}

func TestPresenceAndTypingRoutes(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/presence", `{"user_id":"alice","status":"online","room_id":"doc1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("presence update: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/presence/alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("presence get: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var p map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("parse presence: %v", err)
	}
	if p["status"] != "online" {
		t.Fatalf("status = %v, want online", p["status"])
	}

	rr = doJSON(t, server, http.MethodPost, "/api/typing", `{"user_id":"alice","room_id":"doc1","action":"start"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("typing start: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/rooms/doc1/typing", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("typing get: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var typing struct {
		Typing []string `json:"typing"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &typing); err != nil {
		t.Fatalf("parse typing: %v", err)
	}
	if len(typing.Typing) != 1 || typing.Typing[0] != "alice" {
		t.Fatalf("typing = %v, want [alice]", typing.Typing)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/presence/ghost", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing presence: expected 404, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t)
	rr := doJSON(t, server, http.MethodOptions, "/api/rooms", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS origin = %q, want *", got)
	}
}

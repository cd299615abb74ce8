// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/dialogue/responder"
	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
	"github.com/AleutianAI/intentchat/services/embeddings"
	"github.com/AleutianAI/intentchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/intentchat/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

// createTestRouter creates a gin router with the given handler for testing.
func createTestRouter(method, path string, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Handle(method, path, handler)
	return router
}

// performRequest executes a test HTTP request and returns the response recorder.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			reqBody = bytes.NewBufferString(b)
		default:
			jsonBytes, _ := json.Marshal(body)
			reqBody = bytes.NewBuffer(jsonBytes)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// newTestEngine builds a real engine on the default taxonomy with an
// in-memory badger store.
func newTestEngine(t *testing.T) *dialogue.Engine {
	t.Helper()
	st, err := store.OpenBadgerStore(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := dialogue.DefaultConfig()
	cfg.Rand = responder.NewSeededRand(7)
	e, err := dialogue.New(context.Background(), taxonomy.MustLoadDefault("fr"), cfg, dialogue.Dependencies{
		Encoder: embeddings.NewHashingEncoder(512),
		Store:   st,
	})
	require.NoError(t, err)
	return e
}

// fakeService returns canned errors.
type fakeService struct {
	processErr error
	rateErr    error
	statsErr   error
	historyErr error
	resetErr   error
}

func (f *fakeService) Process(ctx context.Context, utterance, sessionID, language string) (dialogue.ChatResult, error) {
	if f.processErr != nil {
		return dialogue.ChatResult{}, f.processErr
	}
	return dialogue.ChatResult{Response: "ok", Intent: "greeting", SessionID: sessionID, Language: "fr"}, nil
}

func (f *fakeService) Rate(ctx context.Context, id string, rating int) error { return f.rateErr }

func (f *fakeService) Stats(ctx context.Context) (store.Stats, error) {
	return store.Stats{}, f.statsErr
}

func (f *fakeService) History(ctx context.Context, sessionID string) ([]history.Turn, error) {
	return nil, f.historyErr
}

func (f *fakeService) ResetSession(ctx context.Context, sessionID string) error { return f.resetErr }

func (f *fakeService) Catalog() dialogue.CatalogInfo { return dialogue.CatalogInfo{Intents: 1} }

// recordingRecorder captures request metrics.
type recordingRecorder struct {
	mu       sync.Mutex
	requests []string
	open     int
}

func (r *recordingRecorder) RecordRequest(endpoint observability.Endpoint, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, string(endpoint)+":"+status)
}

func (r *recordingRecorder) WebSocketOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open++
}

func (r *recordingRecorder) WebSocketClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open--
}

func (r *recordingRecorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...), r.open
}

func decodeChat(t *testing.T, w *httptest.ResponseRecorder) datatypes.ChatResponse {
	t.Helper()
	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// HandleChat Tests
// =============================================================================

func TestHandleChat_Greeting(t *testing.T) {
	rec := &recordingRecorder{}
	router := createTestRouter("POST", "/v1/chat", HandleChat(newTestEngine(t), rec))

	w := performRequest(router, "POST", "/v1/chat", datatypes.ChatRequest{Message: "bonjour", SessionID: "s1"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeChat(t, w)
	assert.Equal(t, "greeting", resp.Intent)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "fr", resp.Language)
	assert.Equal(t, "neutral", resp.Emotion)
	assert.NotEmpty(t, resp.Response)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Len(t, resp.Context, 1)

	reqs, _ := rec.snapshot()
	assert.Equal(t, []string{"chat:success"}, reqs)
}

func TestHandleChat_IssuesSessionCookie(t *testing.T) {
	router := createTestRouter("POST", "/v1/chat", HandleChat(newTestEngine(t), nil))

	w := performRequest(router, "POST", "/v1/chat", datatypes.ChatRequest{Message: "bonjour"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeChat(t, w)
	require.NotEmpty(t, resp.SessionID)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Equal(t, resp.SessionID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// The cookie carries the session into the next turn.
	body, _ := json.Marshal(datatypes.ChatRequest{Message: "merci"})
	req, _ := http.NewRequest("POST", "/v1/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookies[0])
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)

	require.Equal(t, http.StatusOK, w2.Code)
	resp2 := decodeChat(t, w2)
	assert.Equal(t, resp.SessionID, resp2.SessionID)
	assert.Len(t, resp2.Context, 2)
}

func TestHandleChat_BadRequests(t *testing.T) {
	router := createTestRouter("POST", "/v1/chat", HandleChat(newTestEngine(t), nil))

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{not json"},
		{"missing message", map[string]string{"language": "fr"}},
		{"oversized message", datatypes.ChatRequest{Message: strings.Repeat("a", datatypes.MaxMessageBytes+1)}},
		{"blank message", datatypes.ChatRequest{Message: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(router, "POST", "/v1/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp datatypes.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleChat_EngineError(t *testing.T) {
	rec := &recordingRecorder{}
	router := createTestRouter("POST", "/v1/chat", HandleChat(&fakeService{processErr: errors.New("boom")}, rec))

	w := performRequest(router, "POST", "/v1/chat", datatypes.ChatRequest{Message: "bonjour"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
	reqs, _ := rec.snapshot()
	assert.Equal(t, []string{"chat:error"}, reqs)
}

func TestHandleChat_UnsupportedLanguageFallsBack(t *testing.T) {
	router := createTestRouter("POST", "/v1/chat", HandleChat(newTestEngine(t), nil))

	w := performRequest(router, "POST", "/v1/chat", datatypes.ChatRequest{Message: "hello", Language: "de"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fr", decodeChat(t, w).Language)
}

// =============================================================================
// Feedback and Stats Tests
// =============================================================================

func TestHandleFeedback_RatesConversation(t *testing.T) {
	engine := newTestEngine(t)
	router := gin.New()
	router.POST("/v1/chat", HandleChat(engine, nil))
	router.POST("/v1/feedback", HandleFeedback(engine, nil))
	router.GET("/v1/stats", HandleStats(engine, nil))

	w := performRequest(router, "POST", "/v1/chat", datatypes.ChatRequest{Message: "bonjour", SessionID: "s"})
	require.Equal(t, http.StatusOK, w.Code)
	convID := decodeChat(t, w).ConversationID
	require.NotEmpty(t, convID)

	w = performRequest(router, "POST", "/v1/feedback", datatypes.FeedbackRequest{ConversationID: convID, Rating: 4})
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "GET", "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st store.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.TotalConversations)
	assert.Equal(t, 1, st.RatedConversations)
	assert.Equal(t, 4.0, st.AvgRating)
	require.Len(t, st.TopIntents, 1)
	assert.Equal(t, "greeting", st.TopIntents[0].Intent)
}

func TestHandleFeedback_Errors(t *testing.T) {
	tests := []struct {
		name     string
		svc      *fakeService
		body     interface{}
		wantCode int
	}{
		{"malformed", &fakeService{}, "{", http.StatusBadRequest},
		{"rating too high", &fakeService{}, datatypes.FeedbackRequest{ConversationID: "c", Rating: 6}, http.StatusBadRequest},
		{"rating zero", &fakeService{}, map[string]interface{}{"conversation_id": "c", "rating": 0}, http.StatusBadRequest},
		{"missing id", &fakeService{}, datatypes.FeedbackRequest{Rating: 3}, http.StatusBadRequest},
		{"unknown conversation", &fakeService{rateErr: store.ErrNotFound}, datatypes.FeedbackRequest{ConversationID: "c", Rating: 3}, http.StatusNotFound},
		{"store rejects rating", &fakeService{rateErr: store.ErrInvalidRating}, datatypes.FeedbackRequest{ConversationID: "c", Rating: 3}, http.StatusBadRequest},
		{"store failure", &fakeService{rateErr: errors.New("io")}, datatypes.FeedbackRequest{ConversationID: "c", Rating: 3}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter("POST", "/v1/feedback", HandleFeedback(tt.svc, nil))
			w := performRequest(router, "POST", "/v1/feedback", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHandleStats_EmptyAndError(t *testing.T) {
	router := createTestRouter("GET", "/v1/stats", HandleStats(&fakeService{}, nil))
	w := performRequest(router, "GET", "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"top_intents":[]`)

	router = createTestRouter("GET", "/v1/stats", HandleStats(&fakeService{statsErr: errors.New("x")}, nil))
	w = performRequest(router, "GET", "/v1/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// Session Tests
// =============================================================================

func TestSessionHistory_RoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	router := gin.New()
	router.POST("/v1/chat", HandleChat(engine, nil))
	router.GET("/v1/sessions/:sessionId/history", GetSessionHistory(engine, nil))
	router.DELETE("/v1/sessions/:sessionId", DeleteSession(engine))

	for _, msg := range []string{"bonjour", "merci"} {
		w := performRequest(router, "POST", "/v1/chat", datatypes.ChatRequest{Message: msg, SessionID: "abc"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := performRequest(router, "GET", "/v1/sessions/abc/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist datatypes.HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, "abc", hist.SessionID)
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, "bonjour", hist.Turns[0].Utterance)

	w = performRequest(router, "DELETE", "/v1/sessions/abc", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performRequest(router, "GET", "/v1/sessions/abc/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"turns":[]`)
}

func TestSessionHandlers_Errors(t *testing.T) {
	router := createTestRouter("GET", "/v1/sessions/:sessionId/history",
		GetSessionHistory(&fakeService{historyErr: errors.New("redis down")}, nil))
	w := performRequest(router, "GET", "/v1/sessions/x/history", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	router = createTestRouter("DELETE", "/v1/sessions/:sessionId",
		DeleteSession(&fakeService{resetErr: errors.New("redis down")}))
	w = performRequest(router, "DELETE", "/v1/sessions/x", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReportsCatalog(t *testing.T) {
	router := createTestRouter("GET", "/health", HealthCheck(newTestEngine(t)))

	w := performRequest(router, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 10, resp.Catalog.Intents)
	assert.Greater(t, resp.Catalog.Patterns, 0)
}

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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/intentchat/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWSServer(t *testing.T, svc DialogueService, rec RequestRecorder, origins []string) string {
	t.Helper()
	router := gin.New()
	router.GET("/v1/chat/ws", HandleChatWebSocket(svc, rec, origins))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws"
}

func dialWS(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHandleChatWebSocket_Conversation(t *testing.T) {
	rec := &recordingRecorder{}
	conn := dialWS(t, startWSServer(t, newTestEngine(t), rec, nil), nil)

	var created datatypes.WSSessionCreated
	require.NoError(t, conn.ReadJSON(&created))
	assert.Equal(t, "session_created", created.Action)
	require.NotEmpty(t, created.SessionID)

	require.NoError(t, conn.WriteJSON(datatypes.WSRequest{Message: "bonjour"}))
	var first datatypes.ChatResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "greeting", first.Intent)
	assert.Equal(t, created.SessionID, first.SessionID)
	assert.Len(t, first.Context, 1)

	require.NoError(t, conn.WriteJSON(datatypes.WSRequest{Message: "thank you", Language: "en"}))
	var second datatypes.ChatResponse
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "en", second.Language)
	assert.Equal(t, created.SessionID, second.SessionID)

	reqs, open := rec.snapshot()
	assert.Equal(t, []string{"websocket:success", "websocket:success"}, reqs)
	assert.Equal(t, 1, open)
}

func TestHandleChatWebSocket_RejectedFramesKeepConnection(t *testing.T) {
	conn := dialWS(t, startWSServer(t, newTestEngine(t), nil, nil), nil)

	var created datatypes.WSSessionCreated
	require.NoError(t, conn.ReadJSON(&created))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var bad datatypes.WSError
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "invalid message", bad.Error)

	require.NoError(t, conn.WriteJSON(datatypes.WSRequest{}))
	var empty datatypes.WSError
	require.NoError(t, conn.ReadJSON(&empty))
	assert.NotEmpty(t, empty.Error)

	require.NoError(t, conn.WriteJSON(datatypes.WSRequest{Message: "   "}))
	var blank datatypes.WSError
	require.NoError(t, conn.ReadJSON(&blank))
	assert.Equal(t, "message is empty", blank.Error)

	require.NoError(t, conn.WriteJSON(datatypes.WSRequest{Message: "bonjour"}))
	var ok datatypes.ChatResponse
	require.NoError(t, conn.ReadJSON(&ok))
	assert.Equal(t, "greeting", ok.Intent)
}

func TestHandleChatWebSocket_CheckOrigin(t *testing.T) {
	url := startWSServer(t, &fakeService{}, nil, []string{"https://app.example.com"})

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dialWS(t, url, http.Header{"Origin": {"https://app.example.com"}})
	var created datatypes.WSSessionCreated
	require.NoError(t, conn.ReadJSON(&created))
	assert.Equal(t, "session_created", created.Action)
}

func TestNewUpgrader_Wildcard(t *testing.T) {
	up := newUpgrader([]string{"*"})
	req := httptest.NewRequest("GET", "http://svc/v1/chat/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	assert.True(t, up.CheckOrigin(req))

	up = newUpgrader(nil)
	assert.False(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "http://svc")
	assert.True(t, up.CheckOrigin(req), "same host is always accepted")
	req.Header.Del("Origin")
	assert.True(t, up.CheckOrigin(req))
}

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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/intentchat/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsReadLimit caps a single client frame. Messages are validated to 4KB;
// the slack covers the JSON envelope.
const wsReadLimit = 2 * datatypes.MaxMessageBytes

// newUpgrader builds an upgrader that accepts same-host requests, requests
// with no Origin header, and any origin in allowed. A "*" entry accepts all.
func newUpgrader(allowed []string) *websocket.Upgrader {
	set := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			if _, ok := set[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

func isJSONError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves /v1/chat/ws.
//
// # Description
//
// Each connection is one session. The first server frame is
// {"action":"session_created","session_id":...}. Every client frame
// {message, language?} is answered with a ChatResponse, or {"error":...}
// when the frame is rejected. A rejected frame does not close the
// connection.
//
// # Thread Safety
//
// One goroutine per connection reads and writes; frames of a session are
// processed in order.
func HandleChatWebSocket(svc DialogueService, rec RequestRecorder, allowedOrigins []string) gin.HandlerFunc {
	rec = recorderOrNop(rec)
	upgrader := newUpgrader(allowedOrigins)
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(wsReadLimit)

		rec.WebSocketOpened()
		defer rec.WebSocketClosed()

		sessionID := uuid.NewString()
		slog.Info("New websocket session started", "session_id", sessionID)

		if err := sendJSON(ws, datatypes.WSSessionCreated{Action: "session_created", SessionID: sessionID}); err != nil {
			return
		}

		ctx := c.Request.Context()
		for {
			var req datatypes.WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
					slog.Info("Websocket client disconnected", "session_id", sessionID)
					return
				}
				// Malformed JSON leaves the connection usable; anything else
				// (read limit, network) is terminal.
				if isJSONError(err) {
					rec.RecordRequest(observability.EndpointWebSocket, observability.StatusClientError)
					if sendJSON(ws, datatypes.WSError{Error: "invalid message"}) != nil {
						return
					}
					continue
				}
				slog.Info("Websocket client disconnected", "session_id", sessionID, "error", err.Error())
				return
			}

			if err := req.Validate(); err != nil {
				rec.RecordRequest(observability.EndpointWebSocket, observability.StatusClientError)
				if sendJSON(ws, datatypes.WSError{Error: "message is required and must be at most 4KB"}) != nil {
					return
				}
				continue
			}

			res, err := svc.Process(ctx, req.Message, sessionID, req.Language)
			if err != nil {
				status := observability.StatusError
				msg := "internal error"
				if errors.Is(err, dialogue.ErrEmptyUtterance) {
					status = observability.StatusClientError
					msg = "message is empty"
				} else {
					slog.Error("dialogue processing failed", "session_id", sessionID, "error", err)
				}
				rec.RecordRequest(observability.EndpointWebSocket, status)
				if sendJSON(ws, datatypes.WSError{Error: msg}) != nil {
					return
				}
				continue
			}

			rec.RecordRequest(observability.EndpointWebSocket, observability.StatusSuccess)
			if sendJSON(ws, datatypes.NewChatResponse(res)) != nil {
				return
			}
		}
	}
}

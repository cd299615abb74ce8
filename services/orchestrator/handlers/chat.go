// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and WebSocket endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/intentchat/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("intentchat.orchestrator.handlers")

// SessionCookie carries the session id between requests.
const SessionCookie = "intentchat_session"

// sessionCookieMaxAge is one day, in seconds.
const sessionCookieMaxAge = 24 * 60 * 60

// DialogueService is the part of dialogue.Engine the handlers use.
type DialogueService interface {
	Process(ctx context.Context, utterance, sessionID, language string) (dialogue.ChatResult, error)
	Rate(ctx context.Context, conversationID string, rating int) error
	Stats(ctx context.Context) (store.Stats, error)
	History(ctx context.Context, sessionID string) ([]history.Turn, error)
	ResetSession(ctx context.Context, sessionID string) error
	Catalog() dialogue.CatalogInfo
}

// RequestRecorder receives per-request metrics. *observability.DialogueMetrics
// implements it.
type RequestRecorder interface {
	RecordRequest(endpoint observability.Endpoint, status string)
	WebSocketOpened()
	WebSocketClosed()
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(observability.Endpoint, string) {}
func (nopRecorder) WebSocketOpened()                             {}
func (nopRecorder) WebSocketClosed()                             {}

func recorderOrNop(rec RequestRecorder) RequestRecorder {
	if rec == nil {
		return nopRecorder{}
	}
	return rec
}

// HandleChat processes one turn.
//
// # Description
//
// POST /v1/chat with {message, session_id?, language?}. The session id is
// taken from the body, then the intentchat_session cookie, else a new UUID
// is issued. The cookie is (re)set on every successful reply.
//
// # Outputs
//
//   - 200: datatypes.ChatResponse
//   - 400: Malformed body or empty message
//   - 500: Unexpected engine error
func HandleChat(svc DialogueService, rec RequestRecorder) gin.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			rec.RecordRequest(observability.EndpointChat, observability.StatusClientError)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			rec.RecordRequest(observability.EndpointChat, observability.StatusClientError)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "message is required and must be at most 4KB"})
			return
		}

		sessionID := resolveSessionID(c, req.SessionID)
		span.SetAttributes(attribute.String("session_id", sessionID))

		res, err := svc.Process(ctx, req.Message, sessionID, req.Language)
		if err != nil {
			if errors.Is(err, dialogue.ErrEmptyUtterance) {
				rec.RecordRequest(observability.EndpointChat, observability.StatusClientError)
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "message is empty"})
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "process failed")
			slog.Error("dialogue processing failed", "session_id", sessionID, "error", err)
			rec.RecordRequest(observability.EndpointChat, observability.StatusError)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, res.SessionID, sessionCookieMaxAge, "/", "", false, true)
		rec.RecordRequest(observability.EndpointChat, observability.StatusSuccess)
		c.JSON(http.StatusOK, datatypes.NewChatResponse(res))
	}
}

func resolveSessionID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" && len(cookie) <= datatypes.MaxSessionIDLength {
		return cookie
	}
	return uuid.NewString()
}

// HealthCheck reports liveness and the serving catalog.
func HealthCheck(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{Status: "ok", Catalog: svc.Catalog()})
	}
}

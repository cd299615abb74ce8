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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/intentchat/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
)

// GetSessionHistory returns the recent turns of a session. An unknown
// session has an empty history.
func GetSessionHistory(svc DialogueService, rec RequestRecorder) gin.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		turns, err := svc.History(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("failed to read session history", "session_id", sessionID, "error", err)
			rec.RecordRequest(observability.EndpointHistory, observability.StatusError)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
			return
		}
		rec.RecordRequest(observability.EndpointHistory, observability.StatusSuccess)
		if turns == nil {
			turns = []history.Turn{}
		}
		c.JSON(http.StatusOK, datatypes.HistoryResponse{SessionID: sessionID, Turns: turns})
	}
}

// DeleteSession forgets a session's turns.
func DeleteSession(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "session_id", sessionID)
		if err := svc.ResetSession(c.Request.Context(), sessionID); err != nil {
			slog.Error("failed to delete session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

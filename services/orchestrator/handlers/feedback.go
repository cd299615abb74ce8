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
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/intentchat/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

// HandleFeedback rates a persisted conversation.
//
// # Outputs
//
//   - 200: {"status":"ok"}
//   - 400: Malformed body or rating outside 1..5
//   - 404: Unknown conversation id
//   - 500: Store failure
func HandleFeedback(svc DialogueService, rec RequestRecorder) gin.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleFeedback")
		defer span.End()

		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			rec.RecordRequest(observability.EndpointFeedback, observability.StatusClientError)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			rec.RecordRequest(observability.EndpointFeedback, observability.StatusClientError)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "conversation_id is required and rating must be between 1 and 5"})
			return
		}

		err := svc.Rate(ctx, req.ConversationID, req.Rating)
		switch {
		case err == nil:
			rec.RecordRequest(observability.EndpointFeedback, observability.StatusSuccess)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		case errors.Is(err, store.ErrNotFound):
			rec.RecordRequest(observability.EndpointFeedback, observability.StatusClientError)
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "conversation not found"})
		case errors.Is(err, store.ErrInvalidRating):
			rec.RecordRequest(observability.EndpointFeedback, observability.StatusClientError)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "rating must be between 1 and 5"})
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "rating failed")
			slog.Error("failed to record feedback", "conversation_id", req.ConversationID, "error", err)
			rec.RecordRequest(observability.EndpointFeedback, observability.StatusError)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
		}
	}
}

// HandleStats returns aggregate conversation statistics.
func HandleStats(svc DialogueService, rec RequestRecorder) gin.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(c *gin.Context) {
		st, err := svc.Stats(c.Request.Context())
		if err != nil {
			slog.Error("failed to compute stats", "error", err)
			rec.RecordRequest(observability.EndpointStats, observability.StatusError)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
			return
		}
		if st.TopIntents == nil {
			st.TopIntents = []store.IntentCount{}
		}
		rec.RecordRequest(observability.EndpointStats, observability.StatusSuccess)
		c.JSON(http.StatusOK, st)
	}
}

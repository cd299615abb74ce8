// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the HTTP and WebSocket payloads of the service.
package datatypes

import (
	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageBytes is the maximum size of one user message.
	MaxMessageBytes = 4 * 1024

	// MaxSessionIDLength bounds client-supplied session ids.
	MaxSessionIDLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

// =============================================================================
// Chat
// =============================================================================

// ChatRequest is the body of POST /v1/chat.
//
// # Fields
//
//   - Message: Required. The user's utterance, at most 4KB.
//   - SessionID: Optional. Falls back to the session cookie, then a new id.
//   - Language: Optional. Unsupported or empty uses the default language.
type ChatRequest struct {
	Message   string `json:"message" validate:"required,maxbytes"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128,printascii"`
	Language  string `json:"language,omitempty" validate:"omitempty,max=16"`
}

// Validate validates the request fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatResponse is the body returned for a processed turn.
type ChatResponse struct {
	Response       string         `json:"response"`
	Intent         string         `json:"intent"`
	Confidence     float64        `json:"confidence"`
	Emotion        string         `json:"emotion"`
	Language       string         `json:"language"`
	SessionID      string         `json:"session_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Context        []history.Turn `json:"context"`
}

// NewChatResponse maps an engine result onto the wire shape.
func NewChatResponse(res dialogue.ChatResult) ChatResponse {
	ctx := res.Context
	if ctx == nil {
		ctx = []history.Turn{}
	}
	return ChatResponse{
		Response:       res.Response,
		Intent:         res.Intent,
		Confidence:     res.Confidence,
		Emotion:        string(res.Emotion),
		Language:       res.Language,
		SessionID:      res.SessionID,
		ConversationID: res.ConversationID,
		Context:        ctx,
	}
}

// =============================================================================
// Feedback
// =============================================================================

// FeedbackRequest is the body of POST /v1/feedback.
type FeedbackRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
	Rating         int    `json:"rating" validate:"required,min=1,max=5"`
}

// Validate validates the request fields.
func (r *FeedbackRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// WebSocket
// =============================================================================

// WSRequest is one client frame on /v1/chat/ws.
type WSRequest struct {
	Message  string `json:"message" validate:"required,maxbytes"`
	Language string `json:"language,omitempty" validate:"omitempty,max=16"`
}

// Validate validates the frame.
func (r *WSRequest) Validate() error {
	return chatValidate.Struct(r)
}

// WSSessionCreated is the first server frame of a connection.
type WSSessionCreated struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// WSError reports a rejected frame; the connection stays open.
type WSError struct {
	Error string `json:"error"`
}

// =============================================================================
// Misc
// =============================================================================

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse is the body of GET /v1/sessions/:sessionId/history.
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []history.Turn `json:"turns"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string               `json:"status"`
	Catalog dialogue.CatalogInfo `json:"catalog"`
}

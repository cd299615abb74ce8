// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► reuse X-Request-ID or issue a UUID, echo it on the response
//	   │
//	   ▼
//	AccessLog ──► one structured line per request after the handler returns
//	   │
//	   ▼
//	Handler (retrieves the id via GetRequestID)
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID is read from and written to every request.
const HeaderRequestID = "X-Request-ID"

// requestIDKey is the gin context key for the request id.
const requestIDKey = "intentchat_request_id"

// maxRequestIDLength bounds a client-supplied id; longer ids are replaced.
const maxRequestIDLength = 128

// =============================================================================
// Context Helpers
// =============================================================================

// SetRequestID stores the request id in the Gin context.
func SetRequestID(c *gin.Context, id string) {
	c.Set(requestIDKey, id)
}

// GetRequestID returns the request id, or "" outside RequestID.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// Middleware
// =============================================================================

// RequestID tags every request with an id.
//
// # Description
//
// A well-formed X-Request-ID header from the client is kept; otherwise a new
// UUID is issued. The id is stored in the context and echoed in the response
// header.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		SetRequestID(c, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// AccessLog writes one log line per request. Server errors log at Error,
// client errors at Warn, the rest at Debug so /metrics scrapes stay quiet.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("request_id", GetRequestID(c)),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()))
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

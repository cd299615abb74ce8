// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})
	r.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})
	return r
}

// =============================================================================
// RequestID Tests
// =============================================================================

func TestRequestID_IssuesUUID(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(RequestID()).ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))

	id := w.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestID_KeepsClientID(t *testing.T) {
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(HeaderRequestID, "trace-42")
	w := httptest.NewRecorder()
	newRouter(RequestID()).ServeHTTP(w, req)

	assert.Equal(t, "trace-42", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "trace-42", w.Body.String())
}

func TestRequestID_ReplacesInvalidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"with space", "a b"},
		{"too long", strings.Repeat("x", maxRequestIDLength+1)},
		{"non ascii", "é"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ping", nil)
			req.Header.Set(HeaderRequestID, tt.id)
			w := httptest.NewRecorder()
			newRouter(RequestID()).ServeHTTP(w, req)

			assert.NotEqual(t, tt.id, w.Header().Get(HeaderRequestID))
			_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
			assert.NoError(t, err)
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetRequestID(c))

	c.Set(requestIDKey, 42)
	assert.Empty(t, GetRequestID(c), "wrong type is ignored")
}

// =============================================================================
// AccessLog Tests
// =============================================================================

func TestAccessLog_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	router := newRouter(RequestID(), AccessLog(logger))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ping", nil))
	assert.Empty(t, buf.String(), "successful requests log at debug")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/fail", nil))
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "route=/fail")
	assert.Contains(t, out, "status=500")
	assert.Contains(t, out, "request_id=")

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "route=/missing")
}

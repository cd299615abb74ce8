// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/intentchat/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options tunes route registration. The zero value registers every route
// except /metrics.
type Options struct {
	// Recorder receives request metrics. nil disables them.
	Recorder handlers.RequestRecorder

	// Gatherer backs GET /metrics. nil leaves the route unregistered.
	Gatherer prometheus.Gatherer

	// AllowedOrigins are accepted by the WebSocket upgrade besides the
	// server's own host.
	AllowedOrigins []string
}

// SetupRoutes registers the HTTP API on router.
func SetupRoutes(router *gin.Engine, svc handlers.DialogueService, opts Options) {
	router.GET("/health", handlers.HealthCheck(svc))
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", handlers.HandleChat(svc, opts.Recorder))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(svc, opts.Recorder, opts.AllowedOrigins))
		v1.POST("/feedback", handlers.HandleFeedback(svc, opts.Recorder))
		v1.GET("/stats", handlers.HandleStats(svc, opts.Recorder))
		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(svc, opts.Recorder))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(svc))
		}
	}
}

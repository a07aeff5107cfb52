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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCollab/services/collab/handlers"
	"github.com/AleutianAI/AleutianCollab/services/collab/manager"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
)

// SetupRoutes registers every collab endpoint on router.
//
// # Inputs
//
//   - router: The engine to register on. Middleware is the caller's.
//   - mgr: The document manager.
//   - ws: Websocket transport limits.
//   - metrics: May be nil.
//   - gatherer: Source for /metrics. Nil skips the endpoint.
func SetupRoutes(router *gin.Engine, mgr *manager.DocumentManager, ws handlers.WSConfig,
	metrics *observability.CollabMetrics, gatherer prometheus.Gatherer) {

	router.GET("/health", handlers.HealthCheck(mgr))
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", handlers.HandleCollabWebSocket(mgr, ws, metrics))

		documents := v1.Group("/documents")
		{
			documents.GET("", handlers.ListDocuments(mgr))
			documents.GET("/:docId", handlers.GetDocument(mgr))
			documents.POST("/:docId/snapshot", handlers.SaveDocument(mgr))
		}
	}
}

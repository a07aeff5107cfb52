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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianCollab/services/collab/handlers"
	"github.com/AleutianAI/AleutianCollab/services/collab/manager"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewCollabMetrics(reg)
	mgr := manager.New(manager.DefaultConfig(), nil, manager.WithMetrics(metrics))

	router := gin.New()
	SetupRoutes(router, mgr, handlers.DefaultWSConfig(), metrics, reg)

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"GET /v1/ws",
		"GET /v1/documents",
		"GET /v1/documents/:docId",
		"POST /v1/documents/:docId/snapshot",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aleutian_collab_active_sessions")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":0`)
}

func TestSetupRoutes_WithoutGatherer(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, manager.New(manager.DefaultConfig(), nil), handlers.DefaultWSConfig(), nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCollab/services/collab/manager"
)

// HealthCheck reports liveness and the live session counts.
func HealthCheck(mgr *manager.DocumentManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := mgr.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"sessions": stats.Sessions,
			"users":    stats.Users,
		})
	}
}

// ListDocuments returns the state of every live session.
func ListDocuments(mgr *manager.DocumentManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Stats())
	}
}

// GetDocument returns the current snapshot of one live document.
func GetDocument(mgr *manager.DocumentManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("docId")
		s, ok := mgr.GetSession(docID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "document is not loaded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"documentId": docID,
			"snapshot":   s.Snapshot(),
			"state":      s.State(),
		})
	}
}

// SaveDocument forces a snapshot of one live document.
func SaveDocument(mgr *manager.DocumentManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("docId")
		if !mgr.HasActiveSession(docID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document is not loaded"})
			return
		}
		if err := mgr.SaveDocument(c.Request.Context(), docID); err != nil {
			slog.Error("manual snapshot failed", "document_id", docID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save snapshot"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "documentId": docID})
	}
}

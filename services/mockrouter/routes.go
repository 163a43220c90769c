// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mockrouter

import "github.com/gin-gonic/gin"

// RegisterRoutes wires the mock backend's endpoints onto a gin
// engine.
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")
	{
		api.GET("/health", h.HandleHealth)

		api.POST("/documents/upload", h.HandleUpload)
		api.POST("/documents/simulate-upload", h.HandleSimulateUpload)
		api.GET("/documents/upload/:id", h.HandleUploadStatus)

		api.POST("/analysis/start", h.HandleAnalysisStart)
		api.GET("/analysis/:id", h.HandleAnalysisStatus)
		api.DELETE("/analysis/:id", h.HandleAnalysisCancel)
		api.GET("/analysis/:id/results", h.HandleAnalysisResults)

		api.GET("/results/issues/:id", h.HandleIssueDetails)
	}

	r.GET("/ws", h.HandleWebSocket)
}

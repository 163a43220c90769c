// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command mockrouter starts a standalone mock AI Router backend for
// local development and integration testing.
//
// Usage:
//
//	go run ./cmd/mockrouter
//	go run ./cmd/mockrouter -port 9090
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/api/health
//
//	# Register a seeded document
//	curl -X POST http://localhost:8080/api/documents/simulate-upload \
//	  -H "Content-Type: application/json" \
//	  -d '{"filename": "proposal.pdf"}'
//
//	# Start an analysis and poll it
//	curl -X POST http://localhost:8080/api/analysis/start \
//	  -H "Content-Type: application/json" \
//	  -d '{"proposal_id": "prop-1"}'
//	curl http://localhost:8080/api/analysis/YOUR_SESSION_ID
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/seventeensierra/proposal-prepper/pkg/logging"
	"github.com/seventeensierra/proposal-prepper/services/mockrouter"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "mockrouter"})

	svc := mockrouter.NewService(logger)

	r := gin.New()
	r.Use(gin.Recovery())
	if *debug {
		r.Use(gin.Logger())
	}
	mockrouter.RegisterRoutes(r, mockrouter.NewHandlers(svc))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("\nShutting down mock router...")
		svc.Hub().CloseAll()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Starting mock AI Router on %s (ws push on /ws)", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

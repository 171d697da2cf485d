// Package api provides the HTTP request/response types for the CodeForge API.
//
// This package contains the wire-level data structures exchanged with
// clients of the code-generation service.
//
// # API Overview
//
// CodeForge provides a RESTful API for:
//   - Asynchronous code generation from technical design documents
//   - Zip archive retrieval once generation completes
//   - Job status polling and WebSocket status streams
//   - Health monitoring and metrics
//
// # Authentication
//
// The generation and download endpoints require authentication via the
// X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Administrative endpoints under /api/v1/admin require a JWT bearer token
// instead.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Typical Flow
//
// POST /generate-code returns 202 with a zip_download_url. The archive at
// that URL answers 404 until the background job publishes it, then 200 with
// the zip bytes. A job that failed permanently answers 410 so pollers can
// stop retrying.
package api

//go:build integration

// Package integration provides end-to-end tests against S3-compatible storage.
//
// These tests require Docker and spin up a MinIO server using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration

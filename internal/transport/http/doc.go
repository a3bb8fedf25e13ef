// Package http holds the HTTP handlers that are not resource endpoints:
// health, readiness, liveness and version reporting.
package http

// Package api serves the run log and the stored snapshots over HTTP.
//
// Routes:
//
//	GET /         recent run log as plain text, newest first
//	GET /data     every snapshot as a JSON array, oldest first
//	GET /healthz  liveness
//	GET /readyz   readiness (store reachable)
//	GET /metrics  Prometheus exposition
package api

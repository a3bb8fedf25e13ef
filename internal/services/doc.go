// Package services holds the operational services that sit beside the
// resource dispatch layer. HealthService answers liveness, readiness and
// version queries from the state of the task queue, the task event hub and
// the data directory.
package services

// Package main hosts the fetchd service entrypoint.
//
// Architecture overview:
//   - Dispatch loop: internal/dispatcher runs a single state machine per
//     process that checks resource ceilings, claims one job at a time from
//     the durable queue, filters duplicate targets against the completed
//     index, and fans executions out to goroutines with adaptive pacing.
//   - Durable queue: internal/queue/postgres claims work with a single
//     atomic UPDATE using FOR UPDATE SKIP LOCKED, so concurrent dispatcher
//     processes never double-claim a row and claimed work survives crashes
//     via stale-claim reclamation.
//   - Resource governor: internal/monitor samples process CPU and RSS via
//     gopsutil and fails closed when sampling breaks; the loop throttles
//     instead of claiming while any ceiling is reached.
//   - Execution: internal/engine fetches with the Colly-based fetcher,
//     writes the raw body to the configured blob store (GCS/local/memory),
//     upserts the per-target result row, and appends the completed-target
//     record. Failures persist nothing and flow through the retry policy.
//   - Observability: internal/events fans job and health events out to zap
//     logging, Prometheus, and optional Pub/Sub sinks without ever blocking
//     the loop; internal/api serves health, stats, metrics, and job
//     submission over chi.
//   - Configuration & plumbing: Viper populates config from env/files with
//     required governor ceilings; zap provides structured logging; cobra
//     exposes the run and enqueue commands.
package main

import "github.com/webgrove/fetchd/cmd"

func main() {
	cmd.Execute()
}

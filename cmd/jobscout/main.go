// Package main hosts the jobscout service entrypoint.
//
// Architecture overview:
//   - Scheduler: robfig/cron drives the periodic scrape cycle and a slower
//     smoke-test probe that re-enables recovered sources. Overlapping ticks
//     are skipped rather than queued.
//   - Orchestrator: each cycle fans the enabled source adapters out over a
//     bounded worker pool. Emitted postings stream through dedup
//     classification, profile scoring, and the batch writer; a failing source
//     is recorded against its health and never aborts the cycle.
//   - Adapters: one per job board (JSON APIs via a shared rate-limited HTTP
//     client, HTML boards via goquery or Colly, and an optional Chromedp
//     renderer for JS-walled listings). Markup drift is detected, snapshotted
//     to disk, and disables the source until a probe or manual reset.
//   - Persistence: embedded SQLite (modernc.org/sqlite) with a single
//     batching writer goroutine; reads go through a small connection pool.
//   - HTTP API: chi serves health endpoints, Prometheus metrics, scored
//     postings, run history, and per-source health with a manual reset.
//   - Configuration & plumbing: Viper populates config from file/env; zap
//     provides structured logging.
package main

import "github.com/hiresignal/jobscout/cmd"

func main() {
	cmd.Execute()
}

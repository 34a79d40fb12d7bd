// Package metrics aggregates run outcomes into session statistics.
//
// The central [Collector] type folds every completed run into running
// counters and an append-only duration sequence:
//
//	collector := metrics.NewCollector(iterations)
//	collector.Accumulate(result)
//
//	// Derive the aggregate view once the loop is done (or interrupted).
//	summary := collector.Summarize()
//
// # Summary
//
// The [Summary] type carries the reliability figures of a session:
//   - Run counts (total, passes, failures)
//   - Pass and fail rates, rounded to two decimals
//   - Min, average and max run duration in milliseconds
//   - Duration percentiles (P50, P90, P99) from an HDR histogram
//   - A verdict: STABLE, FLAKY, BROKEN or NO_RUNS
//
// # Ownership
//
// A Collector belongs to the loop driver. It is not safe for concurrent use
// and does no locking; runs are strictly sequential.
//
// # Export
//
// [WriteTextfile] renders a Summary in the Prometheus text exposition format
// so a node_exporter textfile collector can scrape CI sessions.
package metrics

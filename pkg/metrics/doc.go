/*
Package metrics exposes Prometheus collectors and component health for the
farm.

Counters are incremented inline at the transition points they count; gauges
over store contents (tasks per state, live sessions) are sampled by a
background Collector every 15 seconds. The /health endpoint aggregates
per-component health reported by the same paths.
*/
package metrics

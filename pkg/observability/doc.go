/*
Package observability turns engine lifecycle events into Prometheus metrics
and structured log lines.

Both are exposed as domain.LifecycleHooks; Combine fans one event out to
several hook sets.
*/
package observability

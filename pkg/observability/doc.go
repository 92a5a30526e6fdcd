/*
Package observability turns engine lifecycle events into Prometheus metrics and
structured logs.

Both are exposed as domain.LifecycleHooks, so they plug into the engine with
runtime.WithLifecycleHooks and can be merged with Combine.
*/
package observability

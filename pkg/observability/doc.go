/*
Package observability provides lifecycle hooks for monitoring the canopy engine.

It includes Prometheus metrics for node visits, tool calls and run outcomes,
structured-log hooks for auditing each step, and Combine to fan one engine's
hooks out to several observers.
*/
package observability

/*
Package observability provides tools for monitoring script sessions.

Metrics turns the lifecycle hooks of an Environment into Prometheus counters and a pass
duration histogram. Chain fans one hook set out to several observers, so metrics and
structured logging can watch the same session.
*/
package observability

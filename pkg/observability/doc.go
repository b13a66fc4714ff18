// Package observability provides logging, metrics, health checks, tracing
// and graceful shutdown for the credit service.
//
// Logging is structured JSON over stdlib slog. Metrics are Prometheus
// collectors exposed on a dedicated health/metrics port, separate from the
// API port so that scrapes and probes never compete with billable traffic.
// Tracing is OpenTelemetry with an OTLP gRPC exporter, disabled by default.
//
// The metrics here are the primary operational window into the credit core:
// consume outcomes (charged / insufficient / conflict), gate decisions and
// reconciliation results are all counted, so a divergence between the ledger
// and the billing provider is visible on a dashboard before a customer
// notices a wrong balance.
package observability

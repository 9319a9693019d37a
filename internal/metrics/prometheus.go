package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP portal_uptime_seconds Time since the gateway started\n")
	sb.WriteString("# TYPE portal_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("portal_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_requests_total Total number of requests by endpoint\n")
	sb.WriteString("# TYPE portal_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequests) {
		sb.WriteString(fmt.Sprintf("portal_requests_total{endpoint=%q} %d\n", endpoint, snap.TotalRequests[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_request_errors_total Total number of request errors by endpoint\n")
	sb.WriteString("# TYPE portal_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.RequestErrors) {
		sb.WriteString(fmt.Sprintf("portal_request_errors_total{endpoint=%q} %d\n", endpoint, snap.RequestErrors[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_requests_in_progress Current number of requests being processed\n")
	sb.WriteString("# TYPE portal_requests_in_progress gauge\n")
	for _, endpoint := range sortedKeys(snap.RequestsInProgress) {
		if count := snap.RequestsInProgress[endpoint]; count > 0 {
			sb.WriteString(fmt.Sprintf("portal_requests_in_progress{endpoint=%q} %d\n", endpoint, count))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_request_duration_ms_total Total request duration in milliseconds\n")
	sb.WriteString("# TYPE portal_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequestsDur) {
		sb.WriteString(fmt.Sprintf("portal_request_duration_ms_total{endpoint=%q} %d\n", endpoint, snap.TotalRequestsDur[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_denials_total Denied actions and frame requests by reason\n")
	sb.WriteString("# TYPE portal_denials_total counter\n")
	for _, reason := range sortedKeys(snap.Denials) {
		sb.WriteString(fmt.Sprintf("portal_denials_total{reason=%q} %d\n", reason, snap.Denials[reason]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_rate_limit_hits_total Total number of rate limit rejections\n")
	sb.WriteString("# TYPE portal_rate_limit_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("portal_rate_limit_hits_total %d\n", snap.RateLimitHits))
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_tokens_consumed_total Tokens consumed by paid actions\n")
	sb.WriteString("# TYPE portal_tokens_consumed_total counter\n")
	sb.WriteString(fmt.Sprintf("portal_tokens_consumed_total %d\n", snap.TotalTokensConsumed))
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_tokens_consumed_by_module_total Tokens consumed per module\n")
	sb.WriteString("# TYPE portal_tokens_consumed_by_module_total counter\n")
	for _, module := range sortedKeys(snap.TokensByModule) {
		sb.WriteString(fmt.Sprintf("portal_tokens_consumed_by_module_total{module=%q} %d\n", module, snap.TokensByModule[module]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_tokens_granted_total Tokens credited from package purchases\n")
	sb.WriteString("# TYPE portal_tokens_granted_total counter\n")
	sb.WriteString(fmt.Sprintf("portal_tokens_granted_total %d\n", snap.TokensGranted))
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_refunds_total Compensating credits issued\n")
	sb.WriteString("# TYPE portal_refunds_total counter\n")
	sb.WriteString(fmt.Sprintf("portal_refunds_total %d\n", snap.Refunds))
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_proxy_requests_total Frame requests per module\n")
	sb.WriteString("# TYPE portal_proxy_requests_total counter\n")
	for _, module := range sortedKeys(snap.ProxyRequests) {
		sb.WriteString(fmt.Sprintf("portal_proxy_requests_total{module=%q} %d\n", module, snap.ProxyRequests[module]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP portal_proxy_upstream_errors_total Failed upstream fetches per module\n")
	sb.WriteString("# TYPE portal_proxy_upstream_errors_total counter\n")
	for _, module := range sortedKeys(snap.ProxyUpstreamErrors) {
		sb.WriteString(fmt.Sprintf("portal_proxy_upstream_errors_total{module=%q} %d\n", module, snap.ProxyUpstreamErrors[module]))
	}

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

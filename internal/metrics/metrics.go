package metrics

import (
	"sync"
	"time"
)

// Collector tracks portal counters and exports them in Prometheus text
// format. Manual tracking keeps the binary free of a metrics SDK; the label
// space (endpoints, modules, denial reasons) is small and bounded.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64 // current in-flight requests

	// Access control metrics
	denials        map[string]int64 // by denial reason
	rateLimitHits  int64
	rateLimitByKey map[string]int64

	// Billing metrics
	totalTokensConsumed int64
	tokensByModule      map[string]int64
	tokensGranted       int64
	refunds             int64

	// Proxy metrics
	proxyRequests       map[string]int64 // by module
	proxyUpstreamErrors map[string]int64 // by module

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:       make(map[string]int64),
		totalRequestsDur:    make(map[string]int64),
		requestErrors:       make(map[string]int64),
		requestsInProgress:  make(map[string]int64),
		denials:             make(map[string]int64),
		rateLimitByKey:      make(map[string]int64),
		tokensByModule:      make(map[string]int64),
		proxyRequests:       make(map[string]int64),
		proxyUpstreamErrors: make(map[string]int64),
		startTime:           time.Now(),
	}
}

// RecordRequest records a completed request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records a 5xx-class failure for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordDenial records a denied action or frame request by reason.
func (c *Collector) RecordDenial(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.denials[reason]++
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
	c.rateLimitByKey[key]++
}

// RecordTokensConsumed records a successful debit.
func (c *Collector) RecordTokensConsumed(module string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalTokensConsumed += amount
	if module != "" {
		c.tokensByModule[module] += amount
	}
}

// RecordTokensGranted records a credited token package.
func (c *Collector) RecordTokensGranted(amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokensGranted += amount
}

// RecordRefund records a compensating credit.
func (c *Collector) RecordRefund(amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refunds++
	_ = amount
}

// RecordProxyRequest records a frame request for a module.
func (c *Collector) RecordProxyRequest(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.proxyRequests[module]++
}

// RecordProxyUpstreamError records a failed upstream fetch for a module.
func (c *Collector) RecordProxyUpstreamError(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.proxyUpstreamErrors[module]++
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime              int64
	TotalRequests       map[string]int64
	TotalRequestsDur    map[string]int64
	RequestErrors       map[string]int64
	RequestsInProgress  map[string]int64
	Denials             map[string]int64
	RateLimitHits       int64
	RateLimitByKey      map[string]int64
	TotalTokensConsumed int64
	TokensByModule      map[string]int64
	TokensGranted       int64
	Refunds             int64
	ProxyRequests       map[string]int64
	ProxyUpstreamErrors map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:              int64(time.Since(c.startTime).Seconds()),
		TotalRequests:       copyMap(c.totalRequests),
		TotalRequestsDur:    copyMap(c.totalRequestsDur),
		RequestErrors:       copyMap(c.requestErrors),
		RequestsInProgress:  copyMap(c.requestsInProgress),
		Denials:             copyMap(c.denials),
		RateLimitHits:       c.rateLimitHits,
		RateLimitByKey:      copyMap(c.rateLimitByKey),
		TotalTokensConsumed: c.totalTokensConsumed,
		TokensByModule:      copyMap(c.tokensByModule),
		TokensGranted:       c.tokensGranted,
		Refunds:             c.refunds,
		ProxyRequests:       copyMap(c.proxyRequests),
		ProxyUpstreamErrors: copyMap(c.proxyUpstreamErrors),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

package query

// Metrics exposes cache-level observability hooks. A NoopMetrics
// implementation is provided and used by default; plug a Prometheus
// adapter (metrics/prom) to export them.
type Metrics interface {
	// Hit / Miss track FetchQuery freshness decisions.
	Hit()
	Miss()
	// Entry lifecycle.
	QueryAdded()
	QueryRemoved()
	Size(entries int)
	// Fetch lifecycle (terminal outcomes only; retries are internal).
	FetchStarted()
	FetchSucceeded()
	FetchFailed()
	FetchCancelled()
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) Hit()            {}
func (NoopMetrics) Miss()           {}
func (NoopMetrics) QueryAdded()     {}
func (NoopMetrics) QueryRemoved()   {}
func (NoopMetrics) Size(int)        {}
func (NoopMetrics) FetchStarted()   {}
func (NoopMetrics) FetchSucceeded() {}
func (NoopMetrics) FetchFailed()    {}
func (NoopMetrics) FetchCancelled() {}

var _ Metrics = NoopMetrics{}

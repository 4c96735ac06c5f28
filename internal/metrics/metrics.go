package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Scans          Counter
	Signals        Counter
	Skips          Counter
	PaperTrades    Counter
	LiveFills      Counter
	LiveFailures   Counter
	AutoStops      Counter
	LoopFailures   Counter
	ProviderErrors Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Scans:          n,
		Signals:        n,
		Skips:          n,
		PaperTrades:    n,
		LiveFills:      n,
		LiveFailures:   n,
		AutoStops:      n,
		LoopFailures:   n,
		ProviderErrors: n,
	}
}

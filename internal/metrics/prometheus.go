package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "nft_sniper_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	scans          prometheus.Counter
	signals        prometheus.Counter
	skips          prometheus.Counter
	paperTrades    prometheus.Counter
	liveFills      prometheus.Counter
	liveFailures   prometheus.Counter
	autoStops      prometheus.Counter
	loopFailures   prometheus.Counter
	providerErrors prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:       registry,
		scans:          newCounter("scans_total", "Total number of contract scans."),
		signals:        newCounter("signals_total", "Total number of entry signals."),
		skips:          newCounter("skips_total", "Total number of signals rejected by a gate."),
		paperTrades:    newCounter("paper_trades_total", "Total number of simulated trades settled."),
		liveFills:      newCounter("live_fills_total", "Total number of live purchases broadcast."),
		liveFailures:   newCounter("live_failures_total", "Total number of live purchase failures."),
		autoStops:      newCounter("auto_stops_total", "Total number of profit auto-stops."),
		loopFailures:   newCounter("loop_failures_total", "Total number of fatal engine loop failures."),
		providerErrors: newCounter("provider_errors_total", "Total number of external provider call failures."),
	}
	registry.MustRegister(
		p.scans, p.signals, p.skips, p.paperTrades, p.liveFills,
		p.liveFailures, p.autoStops, p.loopFailures, p.providerErrors,
	)
	p.Metrics = &Metrics{
		Scans:          promCounter{p.scans},
		Signals:        promCounter{p.signals},
		Skips:          promCounter{p.skips},
		PaperTrades:    promCounter{p.paperTrades},
		LiveFills:      promCounter{p.liveFills},
		LiveFailures:   promCounter{p.liveFailures},
		AutoStops:      promCounter{p.autoStops},
		LoopFailures:   promCounter{p.loopFailures},
		ProviderErrors: promCounter{p.providerErrors},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

package commands

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	logging "github.com/ipfs/go-log/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opencensus.io/stats/view"
	octrace "go.opencensus.io/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/bridge/opencensus"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	"github.com/iota-community/sponsored-transactions-demo/metrics"
	"github.com/iota-community/sponsored-transactions-demo/version"
)

var log = logging.Logger("sponsor/commands")

type SponsorLogOpts struct {
	LogLevel      string
	LogLevelNamed string
}

var SponsorLogFlags SponsorLogOpts

type SponsorTracingOpts struct {
	Enabled            bool
	ServiceName        string
	ProviderURL        string
	JaegerSamplerParam float64
}

var SponsorTracingFlags SponsorTracingOpts

type SponsorMetricOpts struct {
	PrometheusPort string
}

var SponsorMetricFlags SponsorMetricOpts

func SetupLogging(flags SponsorLogOpts) error {
	ll := flags.LogLevel
	if err := logging.SetLogLevel("*", ll); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	llnamed := flags.LogLevelNamed
	if llnamed != "" {
		for _, llname := range strings.Split(llnamed, ",") {
			parts := strings.Split(llname, ":")
			if len(parts) != 2 {
				return fmt.Errorf("invalid named log level format: %q", llname)
			}
			if err := logging.SetLogLevel(parts[0], parts[1]); err != nil {
				return fmt.Errorf("set named log level %q to %q: %w", parts[0], parts[1], err)
			}
		}
	}

	log.Debugf("sponsor version:%s", version.String())
	return nil
}

func setupMetrics(flags SponsorMetricOpts) error {
	if flags.PrometheusPort == "" {
		return nil
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "sponsor",
		Registry:  registry,
	})
	if err != nil {
		return err
	}

	// register prometheus with opencensus
	view.RegisterExporter(pe)
	view.SetReportingPeriod(2 * time.Second)
	if err := view.Register(metrics.DefaultViews...); err != nil {
		return err
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", pe)
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		log.Infof("serving metrics on %s", flags.PrometheusPort)
		if err := http.ListenAndServe(flags.PrometheusPort, mux); err != nil {
			log.Fatalf("Failed to run Prometheus /metrics endpoint: %v", err)
		}
	}()
	return nil
}

// setupTracing installs a jaeger exporting tracer provider. The returned provider is nil
// when tracing is disabled.
func setupTracing(flags SponsorTracingOpts) (*tracesdk.TracerProvider, error) {
	if !flags.Enabled {
		return nil, nil
	}

	tp, err := metrics.NewJaegerTraceProvider(flags.ServiceName, flags.ProviderURL, flags.JaegerSamplerParam)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	otel.SetTracerProvider(tp)
	// opencensus spans, such as those of go-pg, are forwarded to the same provider
	tracer := tp.Tracer(flags.ServiceName)
	octrace.DefaultTracer = opencensus.NewTracer(tracer)

	return tp, nil
}

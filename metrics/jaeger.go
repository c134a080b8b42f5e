package metrics

import (
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
)

var log = logging.Logger("sponsor/metrics")

// NewJaegerTraceProvider returns a TracerProvider exporting to a Jaeger collector. A
// ratio in (0,1) samples that share of root spans, 1 samples everything and anything
// else disables sampling.
func NewJaegerTraceProvider(serviceName, endpoint string, sampleRatio float64, attrs ...attribute.KeyValue) (*tracesdk.TracerProvider, error) {
	log.Infow("creating jaeger trace provider", "serviceName", serviceName, "ratio", sampleRatio, "endpoint", endpoint)
	var sampler tracesdk.Sampler
	switch {
	case sampleRatio > 0 && sampleRatio < 1:
		sampler = tracesdk.ParentBased(tracesdk.TraceIDRatioBased(sampleRatio))
	case sampleRatio == 1:
		sampler = tracesdk.AlwaysSample()
	default:
		sampler = tracesdk.NeverSample()
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}
	attrs = append([]attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}, attrs...)
	return tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithSampler(sampler),
		tracesdk.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	), nil
}

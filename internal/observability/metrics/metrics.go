package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments for the verification pipeline.
type Metrics struct {
	invoicesCreated    metric.Int64Counter
	verificationsOK    metric.Int64Counter
	verificationsError metric.Int64Counter
	verificationRetry  metric.Int64Counter
	deadLetters        metric.Int64Counter
	enqueueFailures    metric.Int64Counter
	submitDuration     metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "facturo"
	}
	meter := provider.Meter(name)

	invoicesCreated, err := meter.Int64Counter("facturo_invoices_created_total")
	if err != nil {
		return nil, err
	}
	verificationsOK, err := meter.Int64Counter("facturo_verifications_accepted_total")
	if err != nil {
		return nil, err
	}
	verificationsError, err := meter.Int64Counter("facturo_verifications_failed_total")
	if err != nil {
		return nil, err
	}
	verificationRetry, err := meter.Int64Counter("facturo_verification_retries_total")
	if err != nil {
		return nil, err
	}
	deadLetters, err := meter.Int64Counter("facturo_dead_letters_total")
	if err != nil {
		return nil, err
	}
	enqueueFailures, err := meter.Int64Counter("facturo_enqueue_failures_total")
	if err != nil {
		return nil, err
	}
	submitDuration, err := meter.Float64Histogram("facturo_authority_submit_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesCreated:    invoicesCreated,
		verificationsOK:    verificationsOK,
		verificationsError: verificationsError,
		verificationRetry:  verificationRetry,
		deadLetters:        deadLetters,
		enqueueFailures:    enqueueFailures,
		submitDuration:     submitDuration,
	}, nil
}

func (m *Metrics) IncInvoiceCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.invoicesCreated.Add(ctx, 1)
}

func (m *Metrics) IncVerificationAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.verificationsOK.Add(ctx, 1)
}

// IncVerificationFailed records a failed attempt labelled with the error kind
// (rejected, transport, timeout).
func (m *Metrics) IncVerificationFailed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.verificationsError.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) IncVerificationRetry(ctx context.Context, attempt int) {
	if m == nil {
		return
	}
	m.verificationRetry.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

func (m *Metrics) IncDeadLetter(ctx context.Context) {
	if m == nil {
		return
	}
	m.deadLetters.Add(ctx, 1)
}

func (m *Metrics) IncEnqueueFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.enqueueFailures.Add(ctx, 1)
}

func (m *Metrics) ObserveSubmitDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.Record(ctx, d.Seconds())
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch protocol {
	case "http":
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "grpc", "":
		return otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}

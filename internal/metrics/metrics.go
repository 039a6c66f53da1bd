// Package metrics 把连接池的指标发布为 OpenTelemetry 可观测 gauge
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// InstrumentName 是连接数 gauge 的名称
const InstrumentName = "connpool.connections"

type gaugeKey struct {
	pool string
	kind string
}

// GaugeSink 实现 pool.MetricsSink，保存每个 (池, 类型) 的最新值，在采集时发布
type GaugeSink struct {
	mu     sync.RWMutex
	values map[gaugeKey]int64

	gauge        metric.Int64ObservableGauge
	registration metric.Registration
}

// NewGaugeSink 在 meter 上注册 gauge 和采集回调
func NewGaugeSink(meter metric.Meter) (*GaugeSink, error) {
	s := &GaugeSink{values: make(map[gaugeKey]int64)}

	gauge, err := meter.Int64ObservableGauge(InstrumentName,
		metric.WithDescription("Number of pooled connections by pool and kind"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge: %w", err)
	}
	s.gauge = gauge

	reg, err := meter.RegisterCallback(s.observe, gauge)
	if err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}
	s.registration = reg
	return s, nil
}

// RecordGauge 实现 pool.MetricsSink
func (s *GaugeSink) RecordGauge(pool, kind string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[gaugeKey{pool: pool, kind: kind}] = int64(value)
}

// Value 返回最近一次记录的值
func (s *GaugeSink) Value(pool, kind string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[gaugeKey{pool: pool, kind: kind}]
	return v, ok
}

func (s *GaugeSink) observe(_ context.Context, o metric.Observer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, v := range s.values {
		o.ObserveInt64(s.gauge, v, metric.WithAttributes(
			attribute.String("pool", k.pool),
			attribute.String("kind", k.kind),
		))
	}
	return nil
}

// Close 注销采集回调
func (s *GaugeSink) Close() error {
	return s.registration.Unregister()
}

// Point 是一次采集得到的单个数据点
type Point struct {
	Pool  string
	Kind  string
	Value int64
}

// Exporter 持有进程内的 MeterProvider，按需采集 gauge 数据点
type Exporter struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	sink     *GaugeSink
}

// NewExporter 创建使用手动读取器的 MeterProvider 和 GaugeSink
func NewExporter(meterName string) (*Exporter, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	sink, err := NewGaugeSink(provider.Meter(meterName))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &Exporter{provider: provider, reader: reader, sink: sink}, nil
}

// Sink 返回可交给 pool.WithMetricsSink 的接收端
func (e *Exporter) Sink() *GaugeSink {
	return e.sink
}

// Collect 采集当前的 gauge 数据点，按池名和类型排序
func (e *Exporter) Collect(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	var points []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != InstrumentName {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				continue
			}
			for _, dp := range gauge.DataPoints {
				pool, _ := dp.Attributes.Value("pool")
				kind, _ := dp.Attributes.Value("kind")
				points = append(points, Point{Pool: pool.AsString(), Kind: kind.AsString(), Value: dp.Value})
			}
		}
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Pool != points[j].Pool {
			return points[i].Pool < points[j].Pool
		}
		return points[i].Kind < points[j].Kind
	})
	return points, nil
}

// Shutdown 注销回调并关闭 MeterProvider
func (e *Exporter) Shutdown(ctx context.Context) error {
	if err := e.sink.Close(); err != nil {
		return err
	}
	return e.provider.Shutdown(ctx)
}

package cloudwatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/dreschagin/eventlogger/pkg/logger"
)

const (
	// CloudWatch limits
	maxMetricsPerRequest = 1000
	maxRetries           = 3
	initialBackoff       = 100 * time.Millisecond
)

// Metric names published by MetricsPublisher.
const (
	metricEventsProcessed = "EventsProcessed"
	metricWriteAttempts   = "RemoteWriteAttempts"
	metricBatchesFlushed  = "BatchesFlushed"
	metricBatchSize       = "BatchSize"
	metricQueueDepth      = "QueueDepth"
)

// MetricsPublisherConfig holds configuration for CloudWatch metrics publishing.
type MetricsPublisherConfig struct {
	Namespace         string            // CloudWatch namespace (e.g., "EventLogger/Pipeline")
	Region            string            // AWS region (e.g., "us-east-1")
	Endpoint          string            // Optional endpoint override (for LocalStack)
	AccessKeyID       string            // AWS access key
	SecretAccessKey   string            // AWS secret key
	DefaultDimensions map[string]string // Default dimensions added to all metrics
	FlushInterval     time.Duration     // Automatic flush interval
	StorageResolution int32             // Storage resolution in seconds (1 or 60)
}

type metricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// seriesKey identifies one aggregated series: a metric name plus its dimensions.
type seriesKey struct {
	name       string
	dimensions string // sorted "k=v" pairs joined by ","
}

type series struct {
	unit       types.StandardUnit
	dimensions map[string]string
	sum        float64
	count      float64
	gauge      bool
}

// MetricsPublisher aggregates pipeline counters in memory and publishes them
// to AWS CloudWatch on every flush interval. It implements port.PipelineMetrics.
type MetricsPublisher struct {
	client            metricsAPI
	namespace         string
	defaultDimensions map[string]string
	storageResolution int32
	logger            *logger.Logger
	now               func() time.Time

	mu     sync.Mutex
	series map[seriesKey]*series

	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewMetricsPublisher creates a new CloudWatch metrics publisher.
func NewMetricsPublisher(ctx context.Context, cfg MetricsPublisherConfig, log *logger.Logger) (*MetricsPublisher, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}

	// Build AWS config
	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	p := newMetricsPublisher(cloudwatch.NewFromConfig(awsCfg), cfg, log)
	p.start(cfg.FlushInterval)

	return p, nil
}

func newMetricsPublisher(client metricsAPI, cfg MetricsPublisherConfig, log *logger.Logger) *MetricsPublisher {
	if cfg.StorageResolution != 1 && cfg.StorageResolution != 60 {
		cfg.StorageResolution = 60 // Default to standard resolution
	}
	if log == nil {
		log = logger.Nop()
	}

	return &MetricsPublisher{
		client:            client,
		namespace:         cfg.Namespace,
		defaultDimensions: cfg.DefaultDimensions,
		storageResolution: cfg.StorageResolution,
		logger:            log.With("component", "cloudwatch_metrics"),
		now:               time.Now,
		series:            make(map[seriesKey]*series),
		stopCh:            make(chan struct{}),
	}
}

func (p *MetricsPublisher) start(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p.flushTicker = time.NewTicker(interval)

	// Start background flush goroutine
	p.wg.Add(1)
	go p.flushLoop()
}

// EventProcessed counts one logging call by level and outcome.
func (p *MetricsPublisher) EventProcessed(level, outcome string) {
	p.add(metricEventsProcessed, types.StandardUnitCount, 1, false, map[string]string{
		"Level":   level,
		"Outcome": outcome,
	})
}

// WriteAttempt counts one remote write attempt.
func (p *MetricsPublisher) WriteAttempt(mode string, success bool) {
	p.add(metricWriteAttempts, types.StandardUnitCount, 1, false, map[string]string{
		"Mode":    mode,
		"Success": strconv.FormatBool(success),
	})
}

// BatchFlushed counts one flush and tracks the submitted batch size.
func (p *MetricsPublisher) BatchFlushed(trigger string, size int, success bool) {
	p.add(metricBatchesFlushed, types.StandardUnitCount, 1, false, map[string]string{
		"Trigger": trigger,
		"Success": strconv.FormatBool(success),
	})
	p.add(metricBatchSize, types.StandardUnitCount, float64(size), true, map[string]string{
		"Trigger": trigger,
	})
}

// QueueDepth keeps the latest queue length.
func (p *MetricsPublisher) QueueDepth(depth int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := seriesKey{name: metricQueueDepth}
	p.series[key] = &series{unit: types.StandardUnitCount, sum: float64(depth), count: 1, gauge: true}
}

// add accumulates a value. Gauges publish the average of their samples,
// counters publish the sum.
func (p *MetricsPublisher) add(name string, unit types.StandardUnit, value float64, gauge bool, dimensions map[string]string) {
	key := seriesKey{name: name, dimensions: dimensionKey(dimensions)}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.series[key]
	if !ok {
		s = &series{unit: unit, dimensions: dimensions, gauge: gauge}
		p.series[key] = s
	}
	s.sum += value
	s.count++
}

// Flush forces immediate publication of all aggregated metrics.
// Series that fail to publish are dropped.
func (p *MetricsPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.series
	p.series = make(map[seriesKey]*series)
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	data := p.toData(pending, p.now())

	// Publish in chunks (CloudWatch limit: 1000 metrics/request)
	for i := 0; i < len(data); i += maxMetricsPerRequest {
		end := i + maxMetricsPerRequest
		if end > len(data) {
			end = len(data)
		}

		chunk := data[i:end]
		if err := p.publishBatchWithRetry(ctx, chunk); err != nil {
			return fmt.Errorf("failed to publish chunk: %w", err)
		}
	}

	return nil
}

// Close stops the background flush goroutine and flushes remaining metrics.
func (p *MetricsPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.flushTicker != nil {
			p.flushTicker.Stop()
		}
	})
	p.wg.Wait()

	return p.Flush(ctx)
}

// flushLoop runs in a background goroutine and flushes the aggregates periodically.
func (p *MetricsPublisher) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("Failed to publish metrics", "error", err.Error())
			}
			cancel()
		case <-p.stopCh:
			return
		}
	}
}

// publishBatchWithRetry publishes a batch of metrics with exponential backoff retry.
func (p *MetricsPublisher) publishBatchWithRetry(ctx context.Context, data []types.MetricDatum) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data,
		}

		_, err := p.client.PutMetricData(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err

		// Exponential backoff before retry
		if attempt < maxRetries-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// toData converts aggregated series to CloudWatch MetricDatum in a stable order.
func (p *MetricsPublisher) toData(pending map[seriesKey]*series, now time.Time) []types.MetricDatum {
	keys := make([]seriesKey, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].dimensions < keys[j].dimensions
	})

	data := make([]types.MetricDatum, 0, len(keys))
	for _, key := range keys {
		data = append(data, p.convertToDatum(key.name, pending[key], now))
	}
	return data
}

// convertToDatum converts one aggregated series to CloudWatch MetricDatum.
func (p *MetricsPublisher) convertToDatum(name string, s *series, timestamp time.Time) types.MetricDatum {
	// Build dimensions
	dimensions := make([]types.Dimension, 0, len(p.defaultDimensions)+len(s.dimensions))

	// Add default dimensions
	for _, key := range sortedKeys(p.defaultDimensions) {
		dimensions = append(dimensions, types.Dimension{
			Name:  aws.String(key),
			Value: aws.String(p.defaultDimensions[key]),
		})
	}

	// Add series dimensions
	for _, key := range sortedKeys(s.dimensions) {
		dimensions = append(dimensions, types.Dimension{
			Name:  aws.String(key),
			Value: aws.String(s.dimensions[key]),
		})
	}

	value := s.sum
	if s.gauge && s.count > 0 {
		value = s.sum / s.count
	}

	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       s.unit,
		Timestamp:  aws.Time(timestamp),
		Dimensions: dimensions,
	}

	// Set storage resolution (high-resolution metrics)
	if p.storageResolution > 0 {
		datum.StorageResolution = aws.Int32(p.storageResolution)
	}

	return datum
}

func dimensionKey(dimensions map[string]string) string {
	key := ""
	for i, name := range sortedKeys(dimensions) {
		if i > 0 {
			key += ","
		}
		key += name + "=" + dimensions[name]
	}
	return key
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

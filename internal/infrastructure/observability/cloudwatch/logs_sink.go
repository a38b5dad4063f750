package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

const (
	// CloudWatch Logs limits
	maxLogEventsPerRequest = 10000
	maxLogBatchSize        = 1048576 // 1 MB
	maxLogEventSize        = 256000  // 256 KB
	logEventOverhead       = 26      // bytes CloudWatch adds per event when sizing a batch
)

// LogsSinkConfig holds configuration for the CloudWatch Logs remote sink.
type LogsSinkConfig struct {
	LogGroupName    string // CloudWatch log group name
	Region          string // AWS region
	Endpoint        string // Optional endpoint override (for LocalStack)
	AccessKeyID     string // AWS access key
	SecretAccessKey string // AWS secret key
	AutoCreate      bool   // Automatically create log group/streams if missing
}

type logsAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
}

// LogsSink writes event records to CloudWatch Logs.
// Each collection maps to a log stream inside one log group.
type LogsSink struct {
	client       logsAPI
	logGroupName string
	autoCreate   bool

	mu      sync.Mutex
	streams map[string]bool // streams known to exist

	now func() time.Time
}

// NewLogsSink creates a new CloudWatch Logs sink.
func NewLogsSink(ctx context.Context, cfg LogsSinkConfig) (*LogsSink, error) {
	if cfg.LogGroupName == "" {
		return nil, fmt.Errorf("log group name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}

	// Build AWS config
	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	s := newLogsSink(cloudwatchlogs.NewFromConfig(awsCfg), cfg)

	// Ensure log group exists if auto-create is enabled
	if cfg.AutoCreate {
		if err := s.ensureLogGroup(ctx); err != nil {
			return nil, fmt.Errorf("failed to create log group: %w", err)
		}
	}

	return s, nil
}

func newLogsSink(client logsAPI, cfg LogsSinkConfig) *LogsSink {
	return &LogsSink{
		client:       client,
		logGroupName: cfg.LogGroupName,
		autoCreate:   cfg.AutoCreate,
		streams:      make(map[string]bool),
		now:          time.Now,
	}
}

// Ready reports whether the client has been created.
func (s *LogsSink) Ready(context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("cloudwatch logs client: %w", port.ErrSinkNotInitialized)
	}
	return nil
}

// WriteOne publishes a single record.
func (s *LogsSink) WriteOne(ctx context.Context, collection string, record *entity.Record) error {
	return s.WriteBatch(ctx, collection, []*entity.Record{record})
}

// WriteBatch publishes records in as few PutLogEvents requests as the
// CloudWatch limits allow. A batch within 10,000 events and 1 MB is one request.
func (s *LogsSink) WriteBatch(ctx context.Context, collection string, records []*entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	stream := strings.TrimSpace(collection)
	if stream == "" || strings.ContainsAny(stream, ":*") {
		return fmt.Errorf("invalid log stream name %q", collection)
	}

	now := s.now()
	events := make([]types.InputLogEvent, 0, len(records))
	for _, record := range records {
		event, err := convertToLogEvent(record, now)
		if err != nil {
			return err
		}
		events = append(events, event)
	}

	if s.autoCreate {
		if err := s.ensureLogStream(ctx, stream); err != nil {
			return err
		}
	}

	for _, chunk := range splitEvents(events) {
		if err := s.putLogEvents(ctx, stream, chunk); err != nil {
			return fmt.Errorf("failed to publish chunk: %w", err)
		}
	}

	return nil
}

// putLogEvents recreates a stream deleted behind our back once, then gives up.
func (s *LogsSink) putLogEvents(ctx context.Context, stream string, events []types.InputLogEvent) error {
	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.logGroupName),
		LogStreamName: aws.String(stream),
		LogEvents:     events,
	}

	_, err := s.client.PutLogEvents(ctx, input)
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !s.autoCreate || !errors.As(err, &notFound) {
		return err
	}

	s.forgetStream(stream)
	if err := s.ensureLogStream(ctx, stream); err != nil {
		return err
	}
	_, err = s.client.PutLogEvents(ctx, input)
	return err
}

// convertToLogEvent converts a record to a CloudWatch InputLogEvent.
func convertToLogEvent(record *entity.Record, now time.Time) (types.InputLogEvent, error) {
	// Build structured JSON log
	logData := map[string]interface{}{
		"id":     record.ID(),
		"event":  record.Name(),
		"level":  record.Level().String(),
		"fields": record.Resolve(now),
	}

	messageJSON, err := json.Marshal(logData)
	if err != nil {
		return types.InputLogEvent{}, fmt.Errorf("failed to marshal record %s: %w", record.ID(), err)
	}

	// Truncate if exceeds CloudWatch limit
	message := string(messageJSON)
	if len(message) > maxLogEventSize {
		message = message[:maxLogEventSize-3] + "..."
	}

	return types.InputLogEvent{
		Message:   aws.String(message),
		Timestamp: aws.Int64(now.UnixMilli()),
	}, nil
}

// splitEvents groups events into requests within the count and size limits.
func splitEvents(events []types.InputLogEvent) [][]types.InputLogEvent {
	var chunks [][]types.InputLogEvent
	var current []types.InputLogEvent
	size := 0

	for _, event := range events {
		eventSize := len(aws.ToString(event.Message)) + logEventOverhead
		if len(current) > 0 && (len(current) >= maxLogEventsPerRequest || size+eventSize > maxLogBatchSize) {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, event)
		size += eventSize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

func (s *LogsSink) ensureLogGroup(ctx context.Context) error {
	_, err := s.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(s.logGroupName),
	})
	if err != nil {
		// Ignore error if log group already exists
		var alreadyExists *types.ResourceAlreadyExistsException
		if !errors.As(err, &alreadyExists) {
			return err
		}
	}
	return nil
}

func (s *LogsSink) ensureLogStream(ctx context.Context, stream string) error {
	s.mu.Lock()
	known := s.streams[stream]
	s.mu.Unlock()
	if known {
		return nil
	}

	_, err := s.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(s.logGroupName),
		LogStreamName: aws.String(stream),
	})
	if err != nil {
		// Ignore error if log stream already exists
		var alreadyExists *types.ResourceAlreadyExistsException
		if !errors.As(err, &alreadyExists) {
			return fmt.Errorf("failed to create log stream: %w", err)
		}
	}

	s.mu.Lock()
	s.streams[stream] = true
	s.mu.Unlock()
	return nil
}

func (s *LogsSink) forgetStream(stream string) {
	s.mu.Lock()
	delete(s.streams, stream)
	s.mu.Unlock()
}

package dynamodb

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

const (
	// TransactWriteItems accepts at most 100 actions per request.
	maxTransactItems = 100

	attrID        = "id"
	attrEventName = "event_name"
	attrLevel     = "level"
	attrUserID    = "user_id"
	attrFields    = "fields"
	attrCreatedAt = "created_at"
	attrExpiresAt = "expires_at"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,255}$`)

type Config struct {
	TablePrefix     string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	TTL             time.Duration
}

type api interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type EventSink struct {
	client      api
	tablePrefix string
	ttl         time.Duration
	now         func() time.Time
}

func NewEventSink(ctx context.Context, cfg Config) (*EventSink, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)
	if accessKeyID != "" || secretAccessKey != "" {
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, fmt.Errorf("both dynamodb access key id and secret access key are required for static credentials")
		}
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config for dynamodb: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
	})

	return newEventSink(client, cfg), nil
}

func newEventSink(client api, cfg Config) *EventSink {
	return &EventSink{
		client:      client,
		tablePrefix: strings.TrimSpace(cfg.TablePrefix),
		ttl:         cfg.TTL,
		now:         time.Now,
	}
}

func (s *EventSink) Ready(context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("dynamodb client: %w", port.ErrSinkNotInitialized)
	}
	return nil
}

// WriteOne is a conditional put on the record id, so a retried write that
// already landed is reported as success instead of duplicating the record.
func (s *EventSink) WriteOne(ctx context.Context, collection string, record *entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	table, err := s.tableName(collection)
	if err != nil {
		return err
	}

	item, err := s.toItem(record, s.now())
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrID,
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil
		}
		return fmt.Errorf("dynamodb put item failed: %w", err)
	}

	return nil
}

// WriteBatch writes records with TransactWriteItems. Each request carries a
// token derived from its record ids, which DynamoDB uses to make a retried
// transaction idempotent. Batches above 100 records are split into several
// transactions, each atomic on its own.
func (s *EventSink) WriteBatch(ctx context.Context, collection string, records []*entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	table, err := s.tableName(collection)
	if err != nil {
		return err
	}

	now := s.now()
	for start := 0; start < len(records); start += maxTransactItems {
		end := start + maxTransactItems
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		items := make([]types.TransactWriteItem, 0, len(chunk))
		for _, record := range chunk {
			item, err := s.toItem(record, now)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(table),
					Item:      item,
				},
			})
		}

		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems:      items,
			ClientRequestToken: aws.String(requestToken(chunk)),
		})
		if err != nil {
			return fmt.Errorf("dynamodb transact write failed (records %d-%d of %d): %w", start+1, end, len(records), err)
		}
	}

	return nil
}

func (s *EventSink) tableName(collection string) (string, error) {
	table := s.tablePrefix + strings.TrimSpace(collection)
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid dynamodb table name %q", table)
	}
	return table, nil
}

func (s *EventSink) toItem(record *entity.Record, now time.Time) (map[string]types.AttributeValue, error) {
	if record == nil || strings.TrimSpace(record.ID()) == "" {
		return nil, fmt.Errorf("record id is required")
	}

	fields, err := toAttributeValue(record.Resolve(now))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", record.ID(), err)
	}

	item := map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: record.ID()},
		attrEventName: &types.AttributeValueMemberS{Value: record.Name()},
		attrLevel:     &types.AttributeValueMemberS{Value: record.Level().String()},
		attrFields:    fields,
		attrCreatedAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UTC().UnixMilli(), 10)},
	}

	if userID, ok := record.Field(entity.FieldUserID); ok {
		if value, ok := userID.(string); ok && value != "" {
			item[attrUserID] = &types.AttributeValueMemberS{Value: value}
		}
	}
	if s.ttl > 0 {
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).UTC().Unix(), 10)}
	}

	return item, nil
}

// toAttributeValue converts decoded-JSON style values. Anything else is
// stored as its JSON encoding.
func toAttributeValue(value interface{}) (types.AttributeValue, error) {
	switch v := value.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: v}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: v}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}, nil
	case int32:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(v), 10)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}, nil
	case float32:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(float64(v), 'f', -1, 32)}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case map[string]interface{}:
		members := make(map[string]types.AttributeValue, len(v))
		for key, raw := range v {
			member, err := toAttributeValue(raw)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			members[key] = member
		}
		return &types.AttributeValueMemberM{Value: members}, nil
	case []interface{}:
		list := make([]types.AttributeValue, 0, len(v))
		for i, raw := range v {
			member, err := toAttributeValue(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list = append(list, member)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", v, err)
		}
		return &types.AttributeValueMemberS{Value: string(encoded)}, nil
	}
}

// requestToken is stable for the same set of records. DynamoDB limits the token to 36 characters.
func requestToken(records []*entity.Record) string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID())
	}
	sort.Strings(ids)

	sum := sha1.Sum([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])[:36]
}

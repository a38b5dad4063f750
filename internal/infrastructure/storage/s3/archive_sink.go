package s3

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

type URLMode string

const (
	URLModePresigned URLMode = "presigned"
	URLModePublic    URLMode = "public"
)

const contentTypeJSONLines = "application/x-ndjson"

var collectionPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLMode         URLMode
	PresignedTTL    time.Duration
}

// ArchiveObject describes one stored JSON-lines object.
type ArchiveObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url,omitempty"`
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ArchiveSink stores every write as one JSON-lines object. A single PutObject
// is atomic, so a batch is either fully archived or not at all.
type ArchiveSink struct {
	client       objectAPI
	presign      presignAPI
	bucket       string
	endpoint     string
	usePathStyle bool
	urlMode      URLMode
	presignedTTL time.Duration
	now          func() time.Time
}

func NewArchiveSink(ctx context.Context, cfg Config) (*ArchiveSink, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return nil, fmt.Errorf("s3 access key id and secret are required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "ru-central1"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://storage.yandexcloud.net"
	}
	if cfg.URLMode == "" {
		cfg.URLMode = URLModePresigned
	}
	if cfg.URLMode != URLModePresigned && cfg.URLMode != URLModePublic {
		return nil, fmt.Errorf("unsupported s3 url mode: %s", cfg.URLMode)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = &cfg.Endpoint
		options.UsePathStyle = cfg.UsePathStyle
	})

	return newArchiveSink(client, s3.NewPresignClient(client), cfg), nil
}

func newArchiveSink(client objectAPI, presign presignAPI, cfg Config) *ArchiveSink {
	if cfg.PresignedTTL <= 0 {
		cfg.PresignedTTL = 5 * time.Minute
	}
	return &ArchiveSink{
		client:       client,
		presign:      presign,
		bucket:       strings.TrimSpace(cfg.Bucket),
		endpoint:     strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		usePathStyle: cfg.UsePathStyle,
		urlMode:      cfg.URLMode,
		presignedTTL: cfg.PresignedTTL,
		now:          time.Now,
	}
}

func (s *ArchiveSink) Ready(context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("s3 client: %w", port.ErrSinkNotInitialized)
	}
	return nil
}

func (s *ArchiveSink) WriteOne(ctx context.Context, collection string, record *entity.Record) error {
	return s.WriteBatch(ctx, collection, []*entity.Record{record})
}

func (s *ArchiveSink) WriteBatch(ctx context.Context, collection string, records []*entity.Record) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	now := s.now().UTC()
	key, err := objectKey(collection, now, records)
	if err != nil {
		return err
	}
	body, err := encodeBatch(records, now)
	if err != nil {
		return err
	}

	contentType := contentTypeJSONLines
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put object failed: %w", err)
	}

	return nil
}

// ListArchives returns objects stored for a collection on the given day, newest first.
func (s *ArchiveSink) ListArchives(ctx context.Context, collection string, day time.Time, limit int) ([]ArchiveObject, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	collection = strings.TrimSpace(collection)
	if !collectionPattern.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection %q", collection)
	}
	if limit <= 0 {
		limit = 24
	}
	if limit > 200 {
		limit = 200
	}

	prefix := collection + "/" + day.UTC().Format("2006/01/02") + "/"
	maxKeys := int32(limit)
	output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		Prefix:  &prefix,
		MaxKeys: &maxKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("list objects failed: %w", err)
	}

	objects := make([]ArchiveObject, 0, len(output.Contents))
	for _, object := range output.Contents {
		if object.Key == nil || strings.TrimSpace(*object.Key) == "" {
			continue
		}
		objects = append(objects, ArchiveObject{
			Key:          *object.Key,
			Size:         aws.ToInt64(object.Size),
			LastModified: valueTime(object.LastModified),
			URL:          s.readURLOrEmpty(ctx, *object.Key),
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	return objects, nil
}

func (s *ArchiveSink) GetObjectURL(ctx context.Context, key string) (string, error) {
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return "", fmt.Errorf("object key is required")
	}

	if s.urlMode == URLModePublic || s.presign == nil {
		return s.publicURL(normalizedKey), nil
	}

	request, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &normalizedKey,
	}, s3.WithPresignExpires(s.presignedTTL))
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}

	return request.URL, nil
}

// objectKey builds collection/yyyy/mm/dd/<ts>_<id>.jsonl. A single record uses
// its own id, a batch uses a digest of its ids.
func objectKey(collection string, now time.Time, records []*entity.Record) (string, error) {
	collection = strings.TrimSpace(collection)
	if !collectionPattern.MatchString(collection) {
		return "", fmt.Errorf("invalid collection %q", collection)
	}

	id := records[0].ID()
	if len(records) > 1 {
		ids := make([]string, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ID())
		}
		sort.Strings(ids)
		sum := sha1.Sum([]byte(strings.Join(ids, ",")))
		id = hex.EncodeToString(sum[:])
	}

	return fmt.Sprintf("%s/%s/%s_%s.jsonl", collection, now.Format("2006/01/02"), now.Format("20060102T150405.000Z"), id), nil
}

type archiveLine struct {
	ID     string                 `json:"id"`
	Event  string                 `json:"event"`
	Level  string                 `json:"level"`
	Fields map[string]interface{} `json:"fields"`
}

func encodeBatch(records []*entity.Record, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		line := archiveLine{
			ID:     record.ID(),
			Event:  record.Name(),
			Level:  record.Level().String(),
			Fields: record.Resolve(now),
		}
		if err := encoder.Encode(line); err != nil {
			return nil, fmt.Errorf("encode record %s: %w", record.ID(), err)
		}
	}
	return buf.Bytes(), nil
}

func (s *ArchiveSink) publicURL(key string) string {
	escapedKey := url.PathEscape(key)
	escapedKey = strings.ReplaceAll(escapedKey, "%2F", "/")
	if s.usePathStyle {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escapedKey)
	}
	endpoint := strings.TrimPrefix(s.endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.bucket, endpoint, escapedKey)
}

func (s *ArchiveSink) readURLOrEmpty(ctx context.Context, key string) string {
	url, err := s.GetObjectURL(ctx, key)
	if err != nil {
		return ""
	}
	return url
}

func valueTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return v.UTC()
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/worker"
)

// RunArchive implements worker.RunArchive.
type RunArchive struct {
	s3     S3API
	index  DynamoAPI
	bucket string
	prefix string
	table  string
	ttl    time.Duration
	clock  clockwork.Clock
}

var _ worker.RunArchive = (*RunArchive)(nil)

// RunRecord is the index row written for every archived run.
type RunRecord struct {
	PK         string    `dynamodbav:"PK" json:"-"`
	SK         string    `dynamodbav:"SK" json:"-"`
	RunID      string    `dynamodbav:"RunID" json:"run_id"`
	Key        string    `dynamodbav:"Key" json:"key"`
	StartedAt  time.Time `dynamodbav:"StartedAt" json:"started_at"`
	Claimed    int       `dynamodbav:"Claimed" json:"claimed"`
	Processed  int       `dynamodbav:"Processed" json:"processed"`
	Sent       int       `dynamodbav:"Sent" json:"sent"`
	Errors     int       `dynamodbav:"Errors" json:"errors"`
	DurationMS int64     `dynamodbav:"DurationMS" json:"duration_ms"`
	TTL        int64     `dynamodbav:"TTL" json:"-"`
}

func dayKey(t time.Time) string {
	return "RUN#" + t.UTC().Format("2006-01-02")
}

// ObjectKey returns where a summary is stored:
// <prefix>/YYYY/MM/DD/<run_id>.json.
func (a *RunArchive) ObjectKey(s *worker.RunSummary) string {
	return path.Join(a.prefix, s.StartedAt.UTC().Format("2006/01/02"), s.RunID+".json")
}

// Save uploads the summary and, when an index table is configured, records it.
func (a *RunArchive) Save(ctx context.Context, s *worker.RunSummary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}
	key := a.ObjectKey(s)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading run %s: %w", s.RunID, err)
	}

	if a.index == nil {
		return nil
	}
	rec := RunRecord{
		PK:         dayKey(s.StartedAt),
		SK:         s.StartedAt.UTC().Format(time.RFC3339Nano) + "#" + s.RunID,
		RunID:      s.RunID,
		Key:        key,
		StartedAt:  s.StartedAt.UTC(),
		Claimed:    s.Claimed,
		Processed:  s.Processed,
		Sent:       s.Sent,
		Errors:     s.Errors,
		DurationMS: s.DurationMS,
		TTL:        a.clock.Now().Add(a.ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	if _, err := a.index.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("indexing run %s: %w", s.RunID, err)
	}
	return nil
}

// Recent lists the runs started on day, newest first.
func (a *RunArchive) Recent(ctx context.Context, day time.Time, limit int) ([]RunRecord, error) {
	if a.index == nil {
		return nil, fmt.Errorf("run index is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	out, err := a.index.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: dayKey(day)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	var records []RunRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("decoding runs: %w", err)
	}
	return records, nil
}

// Load fetches an archived summary by object key.
func (a *RunArchive) Load(ctx context.Context, key string) (*worker.RunSummary, error) {
	out, err := a.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	var s worker.RunSummary
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &s, nil
}

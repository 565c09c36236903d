package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ttlpaste/internal/storage"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const (
	consumableCondition = "attribute_exists(#id)" +
		" AND (attribute_not_exists(expires_at) OR expires_at > :now)" +
		" AND (attribute_not_exists(max_views) OR view_count < max_views)"
	expiredCondition = "(attribute_exists(expires_at) AND expires_at <= :now)" +
		" OR (attribute_exists(max_views) AND view_count >= max_views)"
)

// Store implements storage.Store on a DynamoDB table keyed by "id" (S).
//
// Times are stored as Unix nanoseconds (N). Items with a TTL also carry a
// "ttl" attribute in epoch seconds for DynamoDB's native expiry.
type Store struct {
	client API
	table  string
}

// New wraps an existing client.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// Open builds a client from the default AWS credential chain. endpoint may
// point at DynamoDB Local.
func Open(ctx context.Context, table, region, endpoint string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, table), nil
}

// Insert writes a new item, failing on an existing id.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     toItem(paste),
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if err != nil {
		if isConditionFailed(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put paste: %w", err)
	}
	return nil
}

// Consume increments view_count under a ConditionExpression that encodes consumability.
func (s *Store) Consume(ctx context.Context, id string, now time.Time) (*storage.Paste, error) {
	out, err := s.client.UpdateItem(ctx, consumeInput(s.table, id, now))
	if err != nil {
		if isConditionFailed(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("consume paste: %w", err)
	}
	return fromItem(out.Attributes)
}

// DeleteExpired scans for dead items and deletes each one, re-checking the
// condition on delete.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	values := map[string]types.AttributeValue{":now": nanos(now)}
	names := map[string]string{"#id": "id"}

	pages := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String(expiredCondition),
		ProjectionExpression:      aws.String("#id"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})

	removed := 0
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("scan expired: %w", err)
		}
		for _, item := range page.Items {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(s.table),
				Key:                       map[string]types.AttributeValue{"id": item["id"]},
				ConditionExpression:       aws.String(expiredCondition),
				ExpressionAttributeValues: values,
			})
			if err != nil {
				if isConditionFailed(err) {
					continue
				}
				return removed, fmt.Errorf("delete expired paste: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// Ping describes the table.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

// Close is a no-op for DynamoDB.
func (s *Store) Close() error {
	return nil
}

func consumeInput(table, id string, now time.Time) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:         aws.String("SET view_count = view_count + :one"),
		ConditionExpression:      aws.String(consumableCondition),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": nanos(now),
		},
		ReturnValues: types.ReturnValueAllNew,
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func nanos(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UTC().UnixNano(), 10)}
}

func toItem(p *storage.Paste) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: p.ID},
		"content":    &types.AttributeValueMemberS{Value: p.Content},
		"created_at": nanos(p.CreatedAt),
		"view_count": &types.AttributeValueMemberN{Value: strconv.FormatInt(p.ViewCount, 10)},
	}
	if p.ExpiresAt != nil {
		item["expires_at"] = nanos(*p.ExpiresAt)
		// DynamoDB TTL works in whole seconds; round up so native expiry never
		// fires before the precise deadline.
		secs := p.ExpiresAt.Unix()
		if p.ExpiresAt.Nanosecond() > 0 {
			secs++
		}
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(secs, 10)}
	}
	if p.MaxViews != nil {
		item["max_views"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*p.MaxViews, 10)}
	}
	return item
}

func fromItem(item map[string]types.AttributeValue) (*storage.Paste, error) {
	p := &storage.Paste{}

	id, ok := item["id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("item missing id")
	}
	p.ID = id.Value

	if content, ok := item["content"].(*types.AttributeValueMemberS); ok {
		p.Content = content.Value
	}

	created, err := intAttr(item, "created_at")
	if err != nil {
		return nil, err
	}
	if created != nil {
		p.CreatedAt = time.Unix(0, *created).UTC()
	}

	expires, err := intAttr(item, "expires_at")
	if err != nil {
		return nil, err
	}
	if expires != nil {
		t := time.Unix(0, *expires).UTC()
		p.ExpiresAt = &t
	}

	if p.MaxViews, err = intAttr(item, "max_views"); err != nil {
		return nil, err
	}

	count, err := intAttr(item, "view_count")
	if err != nil {
		return nil, err
	}
	if count != nil {
		p.ViewCount = *count
	}
	return p, nil
}

func intAttr(item map[string]types.AttributeValue, name string) (*int64, error) {
	av, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseInt(av.Value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &v, nil
}
